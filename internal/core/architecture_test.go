// Package core contains the bulk validation services along with guard rails
// that enforce architectural constraints within the core module.
package core

import (
	"fmt"
	"go/ast"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/tools/go/packages"

	"healthcore/testutil"
)

var (
	corePkgOnce sync.Once
	corePkg     *packages.Package
	corePkgErr  error
)

func loadCorePackage(t *testing.T) *packages.Package {
	t.Helper()

	corePkgOnce.Do(func() {
		cfg := &packages.Config{
			Mode: packages.NeedName | packages.NeedTypes | packages.NeedSyntax | packages.NeedCompiledGoFiles | packages.NeedFiles | packages.NeedImports,
		}
		pkgs, err := packages.Load(cfg, "healthcore/internal/core")
		if err != nil {
			corePkgErr = fmt.Errorf("load core package: %w", err)
			return
		}
		for _, pkg := range pkgs {
			if len(pkg.Errors) > 0 {
				corePkgErr = fmt.Errorf("package load errors: %v", pkg.Errors)
				return
			}
			if pkg.PkgPath == "healthcore/internal/core" {
				corePkg = pkg
				return
			}
		}
		corePkgErr = fmt.Errorf("core package not found in load results")
	})

	if corePkgErr != nil {
		t.Fatalf("%v", corePkgErr)
	}
	return corePkg
}

// TestNoTypeAliases ensures the core package never introduces type aliases.
func TestNoTypeAliases(t *testing.T) {
	pkg := loadCorePackage(t)
	var aliases []string

	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.TYPE {
				continue
			}
			for _, spec := range gen.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok || !ts.Assign.IsValid() {
					continue
				}
				pos := pkg.Fset.Position(ts.Pos())
				aliases = append(aliases, fmt.Sprintf("%s:%d type %s", filepath.Base(pos.Filename), pos.Line, ts.Name.Name))
			}
		}
	}

	if len(aliases) > 0 {
		t.Fatalf("type aliases are forbidden in internal/core; found %d:\n%s", len(aliases), strings.Join(aliases, "\n"))
	}
}

// TestValidatorsStayOffTheWire keeps rule files free of transport and driver
// imports; they reach other services only through the collaborator
// interfaces.
func TestValidatorsStayOffTheWire(t *testing.T) {
	pkg := loadCorePackage(t)
	forbidden := []string{"net/http", "database/sql", "github.com/redis/go-redis/v9"}

	for _, file := range pkg.Syntax {
		name := filepath.Base(pkg.Fset.Position(file.Pos()).Filename)
		if !strings.HasPrefix(name, "rule_") && name != "validators.go" {
			continue
		}
		for _, imp := range file.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				t.Fatalf("unquote import in %s: %v", name, err)
			}
			for _, f := range forbidden {
				if path == f {
					t.Errorf("%s imports %s", name, path)
				}
			}
		}
	}
}

// TestCoreStaysBelowTransports keeps core free of the HTTP clients, the API
// and the ingestion layer that are built on top of it.
func TestCoreStaysBelowTransports(t *testing.T) {
	outer := []string{
		"healthcore/internal/api",
		"healthcore/internal/clients",
		"healthcore/internal/ingest",
		"healthcore/internal/blob",
	}
	testutil.AssertNoTransitiveDependency(t, "healthcore/internal/core", func(path string) bool {
		for _, o := range outer {
			if path == o || strings.HasPrefix(path, o+"/") {
				return true
			}
		}
		return false
	}, "core is consumed by transports, never the reverse")
}
