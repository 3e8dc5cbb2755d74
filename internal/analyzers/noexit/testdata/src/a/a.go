package a

import (
	"errors"
	"log"
	"os"
)

type logger struct{}

func (logger) Fatal(v ...any) {}

func bad(err error) {
	if err != nil {
		os.Exit(1) // want `os.Exit terminates the process; return an error instead`
	}
	log.Fatalf("boom: %v", err) // want `log.Fatalf terminates the process; return an error instead`
	log.Panicln("boom")         // want `log.Panicln terminates the process; return an error instead`
	panic("unreachable")        // want `panic terminates the process; return an error instead`
}

func good() error {
	var l logger
	l.Fatal("method named Fatal is fine")
	log.Printf("logging is fine")
	return errors.New("returned")
}
