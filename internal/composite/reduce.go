// Package composite combines co-registered grids cell by cell.
//
// Reductions are pure: they read their inputs and return a new grid. Cells
// flagged as nodata in an input are left out of that cell's reduction; a
// cell with no valid input is nodata in the output.
package composite

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
)

// Function is a per-cell reduction.
type Function string

const (
	Mean   Function = "mean"
	Median Function = "median"
	Min    Function = "min"
	Max    Function = "max"
)

// ParseFunction validates a reduction name.
func ParseFunction(s string) (Function, error) {
	switch f := Function(strings.ToLower(strings.TrimSpace(s))); f {
	case Mean, Median, Min, Max:
		return f, nil
	}
	return "", fmt.Errorf("unknown compositing function %q", s)
}

// ReduceArrays applies fn across arrays cell by cell, skipping cells whose
// valid entry is false. The second result reports which output cells hold
// a value. All arrays must have the same length.
func ReduceArrays(arrays [][]float64, valid [][]bool, fn Function) ([]float64, []bool) {
	if len(arrays) == 0 {
		return nil, nil
	}
	n := len(arrays[0])
	out := make([]float64, n)
	ok := make([]bool, n)
	cell := make([]float64, 0, len(arrays))
	for i := 0; i < n; i++ {
		cell = cell[:0]
		for k, a := range arrays {
			if valid[k][i] {
				cell = append(cell, a[i])
			}
		}
		if len(cell) == 0 {
			continue
		}
		// Sorted cells keep every reduction, the mean's summation
		// included, independent of input order.
		sort.Float64s(cell)
		out[i] = reduceCell(cell, fn)
		ok[i] = !math.IsNaN(out[i]) && !math.IsInf(out[i], 0)
	}
	return out, ok
}

// reduceCell reduces a sorted, non-empty slice.
func reduceCell(sorted []float64, fn Function) float64 {
	switch fn {
	case Median:
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid]
		}
		return (sorted[mid-1] + sorted[mid]) / 2
	case Min:
		return floats.Min(sorted)
	case Max:
		return floats.Max(sorted)
	default:
		return floats.Sum(sorted) / float64(len(sorted))
	}
}

// Reduce composites grids with fn. Every grid must share the first grid's
// georeference; the output takes its spec, variable and nodata sentinel.
func Reduce(grids []domain.BinnedGrid, fn Function) (domain.CompositeRecord, error) {
	if len(grids) == 0 {
		return domain.CompositeRecord{}, fmt.Errorf("composite %s: %w", fn, domain.ErrMissingInput)
	}
	if _, err := ParseFunction(string(fn)); err != nil {
		return domain.CompositeRecord{}, err
	}
	first := grids[0]
	arrays := make([][]float64, len(grids))
	valid := make([][]bool, len(grids))
	for i, g := range grids {
		if !g.Spec.SameGeoreference(first.Spec) || len(g.Values) != len(first.Values) {
			return domain.CompositeRecord{}, fmt.Errorf("composite input %s: %w", inputID(g, i), domain.ErrGeoreferenceMismatch)
		}
		arrays[i] = g.Values
		valid[i] = g.ValidMask()
	}

	values, ok := ReduceArrays(arrays, valid, fn)
	for i := range values {
		if !ok[i] {
			values[i] = first.Nodata
		}
	}

	out := domain.CompositeRecord{
		BinnedGrid: domain.BinnedGrid{
			Spec:     first.Spec,
			Variable: first.Variable,
			Values:   values,
			Nodata:   first.Nodata,
			Sources:  make([]string, len(grids)),
			Tags:     Provenance(fn, grids),
		},
		Function: string(fn),
	}
	for i, g := range grids {
		out.Sources[i] = inputID(g, i)
	}
	return out, nil
}

// Provenance flattens the lineage of a composite into tags: the function,
// one input entry per grid, and every input tag re-keyed "<input>:<key>".
// Nested composites therefore carry their full history in one flat list.
func Provenance(fn Function, grids []domain.BinnedGrid) []domain.Tag {
	tags := []domain.Tag{{Key: "function", Value: string(fn)}}
	for i, g := range grids {
		tags = append(tags, domain.Tag{Key: "input", Value: inputID(g, i)})
	}
	for i, g := range grids {
		id := inputID(g, i)
		for _, t := range g.Tags {
			tags = append(tags, domain.Tag{Key: id + ":" + t.Key, Value: t.Value})
		}
	}
	return tags
}

func inputID(g domain.BinnedGrid, i int) string {
	if g.ID != "" {
		return g.ID
	}
	return fmt.Sprintf("input%d", i)
}
