// Package raster stores grids as single-band NetCDF classic files.
//
// A file holds one float32 variable over (y, x) named after the grid's
// variable, plus global attributes:
//
//	crs           proj4 string
//	geotransform  affine coefficients A, B, C, D, E, F
//	nodata        nodata sentinel
//	resolution    pixel size in projection units
//	extent        requested south, north, west, east in degrees
//
// Provenance tags live under the COMPOSITING_META namespace: the attribute
// COMPOSITING_META_count holds the number of tags and COMPOSITING_META_NNNN
// holds the N-th tag as "key=value".
package raster

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
)

// Namespace prefixes the provenance attributes.
const Namespace = "COMPOSITING_META"

const (
	attrCRS          = "crs"
	attrGeoTransform = "geotransform"
	attrNodata       = "nodata"
	attrResolution   = "resolution"
	attrExtent       = "extent"
	attrTagCount     = Namespace + "_count"
)

func tagAttr(i int) string { return fmt.Sprintf("%s_%04d", Namespace, i) }

// Write stores grid at path. The file is written next to its destination
// and renamed into place, so readers never observe a partial product.
func Write(path string, grid domain.BinnedGrid) error {
	spec := grid.Spec
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if len(grid.Values) != spec.Size() {
		return fmt.Errorf("write %s: %d values for a %dx%d grid", path, len(grid.Values), spec.Rows, spec.Cols)
	}
	if grid.Variable == "" {
		return fmt.Errorf("write %s: grid has no variable name", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := encode(tmp, grid); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func encode(f *os.File, grid domain.BinnedGrid) error {
	spec := grid.Spec
	h := cdf.NewHeader([]string{"y", "x"}, []int{spec.Rows, spec.Cols})
	h.AddAttribute("", attrCRS, spec.Projection)
	h.AddAttribute("", attrGeoTransform, spec.Transform.Coefficients())
	h.AddAttribute("", attrNodata, []float64{grid.Nodata})
	h.AddAttribute("", attrResolution, []float64{spec.Resolution})
	h.AddAttribute("", attrExtent, []float64{spec.Extent.South, spec.Extent.North, spec.Extent.West, spec.Extent.East})
	h.AddAttribute("", attrTagCount, []int32{int32(len(grid.Tags))})
	for i, t := range grid.Tags {
		h.AddAttribute("", tagAttr(i), t.Key+"="+t.Value)
	}

	h.AddVariable(grid.Variable, []string{"y", "x"}, []float32{0})
	h.AddAttribute(grid.Variable, "_FillValue", []float32{float32(grid.Nodata)})
	h.Define()

	nc, err := cdf.Create(f, h)
	if err != nil {
		return err
	}
	data := make([]float32, len(grid.Values))
	for i, v := range grid.Values {
		data[i] = float32(v)
	}
	w := nc.Writer(grid.Variable, []int{0, 0}, []int{spec.Rows, spec.Cols})
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("variable %s: %w", grid.Variable, err)
	}
	return cdf.UpdateNumRecs(f)
}

// Read loads a grid written by Write. The grid's ID is the file's base name
// and its sources are the "input" and "source" provenance entries.
func Read(path string) (domain.BinnedGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.BinnedGrid{}, err
	}
	defer f.Close()

	nc, err := cdf.Open(f)
	if err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("read %s: %w", path, err)
	}
	variable, err := gridVariable(nc.Header)
	if err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("read %s: %w", path, err)
	}
	lengths := nc.Header.Lengths(variable)

	grid := domain.BinnedGrid{ID: filepath.Base(path), Variable: variable}
	if grid.Spec, err = readSpec(nc.Header, lengths[0], lengths[1]); err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("read %s: %w", path, err)
	}
	nodata, ok := nc.Header.GetAttribute("", attrNodata).([]float64)
	if !ok || len(nodata) == 0 {
		return domain.BinnedGrid{}, fmt.Errorf("read %s: missing %s attribute", path, attrNodata)
	}
	grid.Nodata = nodata[0]
	if grid.Tags, err = readTags(nc.Header); err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("read %s: %w", path, err)
	}
	for _, t := range grid.Tags {
		if t.Key == "input" || t.Key == "source" {
			grid.Sources = append(grid.Sources, t.Value)
		}
	}

	data := make([]float32, lengths[0]*lengths[1])
	if _, err := nc.Reader(variable, nil, nil).Read(data); err != nil {
		return domain.BinnedGrid{}, fmt.Errorf("read %s: variable %s: %w", path, variable, err)
	}
	grid.Values = make([]float64, len(data))
	for i, v := range data {
		grid.Values[i] = float64(v)
	}
	return grid, nil
}

func gridVariable(h *cdf.Header) (string, error) {
	for _, v := range h.Variables() {
		if len(h.Lengths(v)) == 2 {
			return v, nil
		}
	}
	return "", errors.New("no two-dimensional variable")
}

func readSpec(h *cdf.Header, rows, cols int) (domain.GridSpec, error) {
	spec := domain.GridSpec{Rows: rows, Cols: cols}
	var ok bool
	if spec.Projection, ok = h.GetAttribute("", attrCRS).(string); !ok {
		return spec, fmt.Errorf("missing %s attribute", attrCRS)
	}
	coeffs, _ := h.GetAttribute("", attrGeoTransform).([]float64)
	if spec.Transform, ok = domain.AffineFromCoefficients(coeffs); !ok {
		return spec, fmt.Errorf("missing or malformed %s attribute", attrGeoTransform)
	}
	if res, ok := h.GetAttribute("", attrResolution).([]float64); ok && len(res) > 0 {
		spec.Resolution = res[0]
	}
	if ext, ok := h.GetAttribute("", attrExtent).([]float64); ok && len(ext) == 4 {
		spec.Extent = domain.Extent{South: ext[0], North: ext[1], West: ext[2], East: ext[3]}
	}
	return spec, spec.Validate()
}

func readTags(h *cdf.Header) ([]domain.Tag, error) {
	count, ok := h.GetAttribute("", attrTagCount).([]int32)
	if !ok || len(count) == 0 {
		return nil, nil
	}
	tags := make([]domain.Tag, 0, count[0])
	for i := 0; i < int(count[0]); i++ {
		raw, ok := h.GetAttribute("", tagAttr(i)).(string)
		if !ok {
			return nil, fmt.Errorf("missing provenance entry %s", tagAttr(i))
		}
		key, value, found := strings.Cut(raw, "=")
		if !found {
			return nil, fmt.Errorf("malformed provenance entry %q", raw)
		}
		tags = append(tags, domain.Tag{Key: key, Value: value})
	}
	return tags, nil
}
