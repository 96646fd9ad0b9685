package domain

import "math"

// Affine maps (col, row) grid indices to projected (x, y) coordinates.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp returns the transform of a north-up grid with square pixels of
// size res whose north-west corner is (x0, y0).
func NorthUp(res, x0, y0 float64) Affine {
	return Affine{A: res, B: 0, C: x0, D: 0, E: -res, F: y0}
}

// Apply maps grid indices to projected coordinates.
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// Invert returns the inverse transform. ok is false when a is singular.
func (a Affine) Invert() (Affine, bool) {
	det := a.A*a.E - a.B*a.D
	if det == 0 || math.IsNaN(det) {
		return Affine{}, false
	}
	// Rotation-free transforms invert term by term.
	if a.B == 0 && a.D == 0 {
		return Affine{
			A: 1 / a.A, C: -a.C / a.A,
			E: 1 / a.E, F: -a.F / a.E,
		}, true
	}
	ia := a.E / det
	ib := -a.B / det
	id := -a.D / det
	ie := a.A / det
	return Affine{
		A: ia, B: ib, C: -(ia*a.C + ib*a.F),
		D: id, E: ie, F: -(id*a.C + ie*a.F),
	}, true
}

// Pixel maps projected coordinates to fractional (col, row). Rotation-free
// transforms subtract the origin before scaling so the origin itself maps to
// exactly (0, 0).
func (a Affine) Pixel(x, y float64) (col, row float64, ok bool) {
	if a.B == 0 && a.D == 0 {
		if a.A == 0 || a.E == 0 {
			return 0, 0, false
		}
		return (x - a.C) / a.A, (y - a.F) / a.E, true
	}
	inv, ok := a.Invert()
	if !ok {
		return 0, 0, false
	}
	col, row = inv.Apply(x, y)
	return col, row, true
}

// Coefficients returns the six terms in (A, B, C, D, E, F) order.
func (a Affine) Coefficients() []float64 {
	return []float64{a.A, a.B, a.C, a.D, a.E, a.F}
}

// AffineFromCoefficients is the inverse of Coefficients.
func AffineFromCoefficients(c []float64) (Affine, bool) {
	if len(c) != 6 {
		return Affine{}, false
	}
	return Affine{A: c[0], B: c[1], C: c[2], D: c[3], E: c[4], F: c[5]}, true
}

// Extent is a geographic bounding box in decimal degrees.
type Extent struct {
	South float64 `json:"south"`
	North float64 `json:"north"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}

// GridSpec is the georeference of a regular grid.
type GridSpec struct {
	Extent     Extent
	Resolution float64 // pixel size in projection units
	Projection string  // proj4 string
	Rows       int
	Cols       int
	Transform  Affine
}

// Size returns the number of cells.
func (g GridSpec) Size() int { return g.Rows * g.Cols }

// Validate reports ErrInvalidGrid for empty shapes or singular transforms.
func (g GridSpec) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return ErrInvalidGrid
	}
	if _, ok := g.Transform.Invert(); !ok {
		return ErrInvalidGrid
	}
	return nil
}

// SameGeoreference reports whether two grids share shape, transform, and
// projection. The requested extent is informational and not compared.
func (g GridSpec) SameGeoreference(o GridSpec) bool {
	return g.Rows == o.Rows &&
		g.Cols == o.Cols &&
		g.Transform == o.Transform &&
		g.Projection == o.Projection
}

// Tag is one flattened provenance entry.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BinnedGrid is a row-major 2-D grid of values with its georeference.
// ID is the product filename once the grid has been written or read.
type BinnedGrid struct {
	ID       string
	Spec     GridSpec
	Variable string
	Values   []float64
	Nodata   float64
	Sources  []string
	Tags     []Tag
}

// NewBinnedGrid returns a grid filled with the nodata sentinel.
func NewBinnedGrid(spec GridSpec, variable string, nodata float64) BinnedGrid {
	values := make([]float64, spec.Size())
	for i := range values {
		values[i] = nodata
	}
	return BinnedGrid{Spec: spec, Variable: variable, Values: values, Nodata: nodata}
}

// At returns the value at (row, col).
func (g BinnedGrid) At(row, col int) float64 {
	return g.Values[row*g.Spec.Cols+col]
}

// Valid reports whether cell i holds data.
func (g BinnedGrid) Valid(i int) bool {
	v := g.Values[i]
	return !math.IsNaN(v) && v != g.Nodata
}

// ValidMask returns Valid for every cell.
func (g BinnedGrid) ValidMask() []bool {
	mask := make([]bool, len(g.Values))
	for i := range g.Values {
		mask[i] = g.Valid(i)
	}
	return mask
}

// CompositeRecord is a grid produced by reducing several co-registered grids.
// The flattened provenance lives in the embedded grid's Tags.
type CompositeRecord struct {
	BinnedGrid
	Function string
}
