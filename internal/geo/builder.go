package geo

import (
	"fmt"
	"math"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
)

// coverTolerance absorbs floating-point noise when a span is an exact
// multiple of the resolution.
const coverTolerance = 1e-9

// SourceMeta is the georeference embedded in a mapped product.
type SourceMeta struct {
	Resolution string // e.g. "1km"
	Lines      int
	Columns    int
	Projection string
	West       float64
	South      float64
	East       float64
	North      float64
}

// Builder derives GridSpecs, compiling projections through a shared cache.
type Builder struct {
	cache *Cache
}

// NewBuilder creates a Builder.
func NewBuilder(cache *Cache) *Builder {
	return &Builder{cache: cache}
}

// Resolution converts a resolution string to the linear unit of projection.
func (b *Builder) Resolution(res string, projection string) (float64, error) {
	p, err := b.cache.Get(projection)
	if err != nil {
		return 0, err
	}
	l, err := ParseLength(res)
	if err != nil {
		return 0, err
	}
	return l.InUnitsOf(p)
}

// FromExtent builds a north-up grid whose origin is the projected
// (west, north) corner and whose shape covers the projected (east, south)
// corner.
func (b *Builder) FromExtent(ext domain.Extent, resolution float64, projection string) (domain.GridSpec, error) {
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return domain.GridSpec{}, fmt.Errorf("resolution %v: %w", resolution, domain.ErrInvalidGrid)
	}
	p, err := b.cache.Get(projection)
	if err != nil {
		return domain.GridSpec{}, err
	}
	x0, y0, err := p.Forward(ext.West, ext.North)
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("project north-west corner: %w", err)
	}
	x1, y1, err := p.Forward(ext.East, ext.South)
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("project south-east corner: %w", err)
	}

	spec := domain.GridSpec{
		Extent:     ext,
		Resolution: resolution,
		Projection: projection,
		Rows:       cover(math.Abs(y0-y1), resolution),
		Cols:       cover(math.Abs(x1-x0), resolution),
		Transform:  domain.NorthUp(resolution, x0, y0),
	}
	if err := spec.Validate(); err != nil {
		return domain.GridSpec{}, fmt.Errorf("extent %+v at %v: %w", ext, resolution, err)
	}
	return spec, nil
}

// FromSource rebuilds the grid of a mapped product. The minimum X comes from
// the projected south-west corner but the minimum Y comes from the point on
// the central meridian at the southern edge, which is where the projected
// bounding box reaches furthest south.
func (b *Builder) FromSource(meta SourceMeta) (domain.GridSpec, error) {
	p, err := b.cache.Get(meta.Projection)
	if err != nil {
		return domain.GridSpec{}, err
	}
	l, err := ParseLength(meta.Resolution)
	if err != nil {
		return domain.GridSpec{}, err
	}
	res, err := l.InUnitsOf(p)
	if err != nil {
		return domain.GridSpec{}, err
	}
	if res <= 0 {
		return domain.GridSpec{}, fmt.Errorf("resolution %q: %w", meta.Resolution, domain.ErrInvalidGrid)
	}

	xMin, _, err := p.Forward(meta.West, meta.South)
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("project south-west corner: %w", err)
	}
	_, yMin, err := p.Forward(p.CentralLongitude(), meta.South)
	if err != nil {
		return domain.GridSpec{}, fmt.Errorf("project southern central point: %w", err)
	}
	yMax := yMin + float64(meta.Lines)*res

	spec := domain.GridSpec{
		Extent:     domain.Extent{South: meta.South, North: meta.North, West: meta.West, East: meta.East},
		Resolution: res,
		Projection: meta.Projection,
		Rows:       meta.Lines,
		Cols:       meta.Columns,
		Transform:  domain.NorthUp(res, xMin, yMax),
	}
	if err := spec.Validate(); err != nil {
		return domain.GridSpec{}, fmt.Errorf("source %dx%d: %w", meta.Lines, meta.Columns, err)
	}
	return spec, nil
}

func cover(span, res float64) int {
	n := span / res
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int(math.Ceil(n - coverTolerance))
}
