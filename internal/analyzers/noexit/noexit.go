// Package noexit implements an analyzer that keeps process termination in main.
//
// Outside package main it reports calls to os.Exit, log.Fatal*, log.Panic* and the panic
// builtin: library code returns errors instead. Inside package main it reports os.Exit
// called directly from main(), which should delegate to a run function so deferred calls
// still execute.
package noexit

import (
	"go/ast"
	"go/types"
	"strconv"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "noexit",
	Doc:      "forbid process termination outside main and os.Exit directly in main.main",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

var terminating = map[string]map[string]bool{
	"os":  {"Exit": true},
	"log": {"Fatal": true, "Fatalf": true, "Fatalln": true, "Panic": true, "Panicf": true, "Panicln": true},
}

func run(pass *analysis.Pass) (any, error) {
	if pass.Pkg == nil || strings.HasSuffix(pass.Pkg.Path(), "/cmd/staticlint") {
		return nil, nil
	}
	skip := make(map[*ast.File]bool)
	for _, f := range pass.Files {
		fn := pass.Fset.Position(f.Pos()).Filename
		if strings.Contains(fn, "/.cache/go-build/") || strings.HasSuffix(fn, "_test.go") || isGenerated(f) || importsTesting(f) {
			skip[f] = true
		}
	}

	if pass.Pkg.Name() == "main" {
		checkMain(pass, skip)
		return nil, nil
	}

	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	insp.WithStack([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		if f, ok := stack[0].(*ast.File); ok && skip[f] {
			return false
		}
		call := n.(*ast.CallExpr)
		if name, ok := terminatingCall(pass, call); ok {
			pass.Reportf(call.Pos(), "%s terminates the process; return an error instead", name)
		}
		return true
	})
	return nil, nil
}

func checkMain(pass *analysis.Pass, skip map[*ast.File]bool) {
	for _, f := range pass.Files {
		if skip[f] {
			continue
		}
		for _, decl := range f.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Recv != nil || fd.Name.Name != "main" || fd.Body == nil {
				continue
			}
			ast.Inspect(fd.Body, func(n ast.Node) bool {
				if _, ok := n.(*ast.FuncLit); ok {
					return false
				}
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}
				if name, ok := terminatingCall(pass, call); ok && name == "os.Exit" {
					pass.Reportf(call.Pos(), "do not call os.Exit inside main; delegate to run() and return code")
				}
				return true
			})
		}
	}
}

// terminatingCall reports whether call ends the process and names the callee.
func terminatingCall(pass *analysis.Pass, call *ast.CallExpr) (string, bool) {
	var id *ast.Ident
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		id = fun
	case *ast.SelectorExpr:
		id = fun.Sel
	default:
		return "", false
	}

	switch obj := pass.TypesInfo.Uses[id].(type) {
	case *types.Builtin:
		if obj.Name() == "panic" {
			return "panic", true
		}
	case *types.Func:
		if obj.Pkg() == nil {
			return "", false
		}
		if sig, ok := obj.Type().(*types.Signature); ok && sig.Recv() != nil {
			return "", false
		}
		if terminating[obj.Pkg().Path()][obj.Name()] {
			return obj.Pkg().Path() + "." + obj.Name(), true
		}
	}
	return "", false
}

func isGenerated(f *ast.File) bool {
	for _, cg := range f.Comments {
		for _, c := range cg.List {
			if strings.Contains(c.Text, "Code generated") && strings.Contains(c.Text, "DO NOT EDIT") {
				return true
			}
		}
	}
	return false
}

func importsTesting(f *ast.File) bool {
	for _, im := range f.Imports {
		if p, _ := strconv.Unquote(im.Path.Value); p == "testing" || p == "testing/internal/testdeps" {
			return true
		}
	}
	return false
}
