// Command validate performs integrity checks over an archive tree: every file
// must carry a canonical name, sit at its canonical location, and every
// mapped product must be readable, co-registered with its peers, and trace
// its inputs to files present in the archive.
//
// Usage:
//
//	go run ./cmd/validate -root data
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/ocean-color-archive/internal/archive"
	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/raster"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// entry is one file found under the root.
type entry struct {
	path   string
	record archive.Record
	parsed bool
}

func main() {
	root := flag.String("root", "", "archive root directory")
	flag.Parse()

	if *root == "" {
		flag.Usage()
		os.Exit(1)
	}
	if code := run(*root); code != 0 {
		os.Exit(code)
	}
}

func run(root string) int {
	fmt.Println("=== Archive Integrity Validation ===")
	fmt.Println()

	cat, err := catalog.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load catalog: %v\n", err)
		return 1
	}
	codec := archive.NewCodec(cat)

	entries, err := scan(root, codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: scan %s: %v\n", root, err)
		return 1
	}

	products := mappedProducts(entries)
	grids := readGrids(products)

	phases := []*phase{
		validateNames(entries, codec),
		validateLocations(entries, codec, root),
		validateReadable(products, grids, cat),
		validateGeoreference(products, grids),
		validateLineage(products, grids, entries),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Files: %d total, %d mapped products\n", len(entries), len(products))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// scan lists every regular file under root, skipping hidden temp files.
func scan(root string, codec *archive.Codec) ([]entry, error) {
	var out []entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rec, perr := codec.Parse(path, true)
		out = append(out, entry{path: path, record: rec, parsed: perr == nil})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, err
}

// mappedProducts returns the NetCDF mapped products among entries.
func mappedProducts(entries []entry) []entry {
	var out []entry
	for _, e := range entries {
		if e.parsed && e.record.Level == archive.LevelL3m && e.record.Ext == "nc" {
			out = append(out, e)
		}
	}
	return out
}

type gridResult struct {
	grid domain.BinnedGrid
	err  error
}

func readGrids(products []entry) []gridResult {
	out := make([]gridResult, len(products))
	for i, p := range products {
		out[i].grid, out[i].err = raster.Read(p.path)
	}
	return out
}

// ── Phase 1: Names ──
// Every file parses and rebuilds to the same name.

func validateNames(entries []entry, codec *archive.Codec) *phase {
	p := &phase{name: "Phase 1: Canonical names"}
	for _, e := range entries {
		base := filepath.Base(e.path)
		if !e.parsed {
			p.errorf("%s: not an archive filename", e.path)
			continue
		}
		built, err := codec.Build(e.record)
		if err != nil {
			p.errorf("%s: rebuild: %v", e.path, err)
		} else if built != base {
			p.errorf("%s: rebuilds as %s", e.path, built)
		}
	}
	return p
}

// ── Phase 2: Locations ──
// Every parsed file sits where the locator would put it.

func validateLocations(entries []entry, codec *archive.Codec, root string) *phase {
	p := &phase{name: "Phase 2: Canonical locations"}
	for _, e := range entries {
		if !e.parsed {
			continue
		}
		want, err := codec.PathFor(e.record, root)
		if err != nil {
			p.errorf("%s: %v", e.path, err)
			continue
		}
		if filepath.Clean(want) != filepath.Clean(e.path) {
			p.errorf("%s: expected at %s", e.path, want)
		}
	}
	return p
}

// ── Phase 3: Readable products ──
// Each product holds its variable and uses the sentinel of its nodata domain.

func validateReadable(products []entry, grids []gridResult, cat *catalog.Catalog) *phase {
	p := &phase{name: "Phase 3: Readable products"}
	for i, e := range products {
		if grids[i].err != nil {
			p.errorf("%s: %v", e.path, grids[i].err)
			continue
		}
		grid := grids[i].grid
		if grid.Variable != e.record.Variable {
			p.errorf("%s: holds variable %q", e.path, grid.Variable)
		}
		name := cat.NodataDomain(e.record.Variable)
		if e.record.Anomaly {
			name = catalog.AnomalyDomain
		}
		want, err := cat.DomainNodata(name)
		if err != nil {
			p.errorf("%s: %v", e.path, err)
			continue
		}
		if grid.Nodata != want {
			p.errorf("%s: nodata %v, want %v for the %s domain", e.path, grid.Nodata, want, name)
		}
	}
	return p
}

// ── Phase 4: Georeference ──
// Products sharing a resolution token share one grid.

func validateGeoreference(products []entry, grids []gridResult) *phase {
	p := &phase{name: "Phase 4: Shared georeference"}
	first := map[string]int{}
	for i, e := range products {
		if grids[i].err != nil {
			continue
		}
		res := e.record.Resolution
		j, seen := first[res]
		if !seen {
			first[res] = i
			continue
		}
		if !grids[i].grid.Spec.SameGeoreference(grids[j].grid.Spec) {
			p.errorf("%s: grid differs from %s", e.path, filepath.Base(products[j].path))
		}
	}
	return p
}

// ── Phase 5: Lineage ──
// Every input named by a composite's provenance exists in the archive.

func validateLineage(products []entry, grids []gridResult, entries []entry) *phase {
	p := &phase{name: "Phase 5: Composite lineage"}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[filepath.Base(e.path)] = true
	}
	for i, e := range products {
		if grids[i].err != nil {
			continue
		}
		for _, tag := range grids[i].grid.Tags {
			if tag.Key != "input" && tag.Key != "climatology" {
				continue
			}
			if !names[tag.Value] {
				p.errorf("%s: input %s is not in the archive", e.path, tag.Value)
			}
		}
	}
	return p
}
