// Package testutil provides test helpers that enforce the module's package
// layering: which packages may import the ledger internals, the storage
// drivers and the cloud SDKs, and where domain.PersistentStore may be
// implemented.
package testutil

import (
	"go/types"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Module is the import path prefix of this repository.
const Module = "craftskins"

// LoadModule loads every package of the module, tests included, with names,
// imports and type information.
func LoadModule(t testing.TB) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, Module+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	return pkgs
}

// Under reports whether path equals prefix or is nested below it.
func Under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Boundary restricts imports of Forbidden prefixes to packages under one of
// the Allowed prefixes. Test variants of a package share its allowance and
// are skipped entirely when ProductionOnly is set.
type Boundary struct {
	Name           string
	Forbidden      []string
	Allowed        []string
	ProductionOnly bool
}

func (b Boundary) allows(pkgPath string) bool {
	for _, prefix := range b.Allowed {
		if Under(pkgPath, prefix) {
			return true
		}
	}
	return false
}

func (b Boundary) forbids(importPath string) bool {
	for _, prefix := range b.Forbidden {
		if Under(importPath, prefix) {
			return true
		}
	}
	return false
}

// Violations lists "pkg: import" pairs crossing b, sorted.
func (b Boundary) Violations(pkgs []*packages.Package) []string {
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if b.ProductionOnly && isTestVariant(pkg) {
			continue
		}
		path := basePath(pkg.PkgPath)
		if b.allows(path) {
			continue
		}
		for importPath := range pkg.Imports {
			if b.forbids(importPath) {
				seen[path+": "+importPath] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// AssertBoundary fails t for every import crossing b.
func AssertBoundary(t testing.TB, pkgs []*packages.Package, b Boundary) {
	t.Helper()
	viols := b.Violations(pkgs)
	for _, v := range viols {
		t.Errorf("%s: forbidden import %s", b.Name, v)
	}
	if len(viols) > 0 {
		t.Fatalf("%s: %d forbidden imports", b.Name, len(viols))
	}
}

// Implementations returns "pkg.Type" for every named struct whose pointer
// implements the interface ifaceName declared in ifacePkg. It fails t when
// the interface cannot be resolved.
func Implementations(t testing.TB, pkgs []*packages.Package, ifacePkg, ifaceName string) []string {
	t.Helper()
	var iface *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != ifacePkg || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup(ifaceName)
		if obj == nil {
			t.Fatalf("%s.%s not found", ifacePkg, ifaceName)
		}
		it, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("%s.%s is not an interface", ifacePkg, ifaceName)
		}
		iface = it
		break
	}
	if iface == nil {
		t.Fatalf("package %s not loaded", ifacePkg)
	}
	seen := make(map[string]struct{})
	for _, p := range pkgs {
		if p.Types == nil || isTestVariant(p) {
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			named, ok := scope.Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), iface) {
				seen[basePath(p.PkgPath)+"."+name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// basePath strips the test suffixes so a package, its external _test
// package and its generated test main are judged together.
func basePath(pkgPath string) string {
	return strings.TrimSuffix(strings.TrimSuffix(pkgPath, ".test"), "_test")
}

// isTestVariant reports packages that only exist under go test: recompiled
// variants carry a bracketed ID suffix.
func isTestVariant(p *packages.Package) bool {
	return strings.Contains(p.ID, " [") || p.PkgPath != basePath(p.PkgPath)
}
