package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"
)

// Commands reach the index and the data tree only through the engine, which
// owns the lock and the record/file ordering.
var forbiddenCommandCalls = map[string][]string{
	"store":     {"Open"},
	"blobstore": {"NewLocal"},
	"lock":      {"Acquire", "Break"},
}

func TestCommandsUseEngineBoundary(t *testing.T) {
	fset := token.NewFileSet()
	for _, path := range commandSourceFiles(t) {
		file, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}

		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			pkg, ok := sel.X.(*ast.Ident)
			if !ok {
				return true
			}
			for _, name := range forbiddenCommandCalls[pkg.Name] {
				if sel.Sel.Name == name {
					t.Errorf("%s:%d calls %s.%s directly; go through engine.Engine",
						filepath.Base(path), fset.Position(call.Pos()).Line, pkg.Name, name)
				}
			}
			return true
		})
	}
}

func TestOnlyMigrateOpensRawIndex(t *testing.T) {
	fset := token.NewFileSet()
	for _, path := range commandSourceFiles(t) {
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		for _, imp := range file.Imports {
			if strings.Trim(imp.Path.Value, `"`) != "modernc.org/sqlite" {
				continue
			}
			if filepath.Base(path) != "migrate.go" {
				t.Errorf("%s imports the sqlite driver; only migrate.go inspects the raw index", filepath.Base(path))
			}
		}
	}
}
