package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const (
	modulePath   = "commandcore"
	facadePath   = modulePath + "/internal/blob"
	backendsPath = modulePath + "/internal/infra/blob"
)

// TestBackendsReachedThroughFacade loads every package in the module,
// including test variants, and fails when one outside the blob facade or the
// backends themselves imports a backend directly.
func TestBackendsReachedThroughFacade(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, modulePath+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	offenders := map[string]bool{}
	for _, pkg := range pkgs {
		if within(pkg.PkgPath, facadePath) || within(pkg.PkgPath, backendsPath) {
			continue
		}
		for imp := range pkg.Imports {
			if within(imp, backendsPath) {
				offenders[pkg.PkgPath+" -> "+imp] = true
			}
		}
	}
	if len(offenders) == 0 {
		return
	}
	list := make([]string, 0, len(offenders))
	for o := range offenders {
		list = append(list, o)
	}
	sort.Strings(list)
	t.Fatalf("blob backends imported outside the facade:\n%s", strings.Join(list, "\n"))
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
