package main

import (
	"fmt"
	"os"
)

func run() int {
	if len(os.Args) > 5 {
		panic("main packages may panic")
	}
	return 0
}

func main() {
	defer fmt.Println("deferred")
	if code := run(); code != 0 {
		os.Exit(code) // want `do not call os.Exit inside main; delegate to run\(\) and return code`
	}
	func() {
		os.Exit(0)
	}()
}

func helper() {
	os.Exit(2)
}
