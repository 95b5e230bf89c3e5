// Package testutil provides helpers for enforcing import boundaries between
// the layers of the repository.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const modulePath = "portioncore"

// AssertNoDirectImports parses every non-test .go file in dir and fails if
// an import path satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan imports in %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// InternalImportForbidden matches the module's internal packages.
func InternalImportForbidden(path string) bool {
	return path == modulePath+"/internal" || strings.HasPrefix(path, modulePath+"/internal/")
}

// adapterPackages sit above the engine: they consume core but core never
// consumes them.
var adapterPackages = []string{
	modulePath + "/internal/blob",
	modulePath + "/internal/config",
	modulePath + "/internal/infra/audit",
	modulePath + "/internal/infra/blob",
	modulePath + "/internal/infra/metrics",
}

// AdapterImportForbidden matches the blob, audit, metrics and config layers.
func AdapterImportForbidden(path string) bool {
	for _, p := range adapterPackages {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// driverModules are third-party storage and transport clients.
var driverModules = []string{
	"github.com/jackc/pgx",
	"modernc.org/sqlite",
	"github.com/aws/aws-sdk-go-v2",
	"github.com/gin-gonic/gin",
}

// DriverImportForbidden matches database, object store and HTTP framework
// clients.
func DriverImportForbidden(path string) bool {
	for _, m := range driverModules {
		if path == m || strings.HasPrefix(path, m+"/") {
			return true
		}
	}
	return false
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}
