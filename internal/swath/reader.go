package swath

import (
	"context"
	"fmt"
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/ncfile"
)

const (
	navigationGroup  = "navigation_data"
	geophysicalGroup = "geophysical_data"
	flagsVariable    = "l2_flags"
)

// Request names the arrays to read from one swath file. When Bands is set
// they are read into SampleSet.Bands instead of Variable.
type Request struct {
	Variable string
	Bands    []string
	Quality  string
}

// Reader loads the samples of one swath file.
type Reader interface {
	Read(ctx context.Context, path string, req Request) (SampleSet, error)
}

// NetCDFReader reads NASA OBPG L2 files (NetCDF4/HDF5).
type NetCDFReader struct{}

// Read flattens the coordinate, variable, flag and quality arrays of path.
// Scale and offset attributes are applied and fill values become NaN.
func (NetCDFReader) Read(ctx context.Context, path string, req Request) (SampleSet, error) {
	if err := ctx.Err(); err != nil {
		return SampleSet{}, err
	}
	nc, err := ncfile.Open(path)
	if err != nil {
		return SampleSet{}, err
	}
	defer nc.Close()

	nav, err := nc.GetGroup(navigationGroup)
	if err != nil {
		return SampleSet{}, fmt.Errorf("%s: %s: %w", path, navigationGroup, err)
	}
	defer nav.Close()
	geo, err := nc.GetGroup(geophysicalGroup)
	if err != nil {
		return SampleSet{}, fmt.Errorf("%s: %s: %w", path, geophysicalGroup, err)
	}
	defer geo.Close()

	var s SampleSet
	if s.Lon, err = readVariable(nav, "longitude"); err != nil {
		return SampleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	if s.Lat, err = readVariable(nav, "latitude"); err != nil {
		return SampleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(req.Bands) > 0 {
		for _, band := range req.Bands {
			values, err := readVariable(geo, band)
			if err != nil {
				return SampleSet{}, fmt.Errorf("%s: %w", path, err)
			}
			s.Bands = append(s.Bands, values)
		}
	} else if s.Value, err = readVariable(geo, req.Variable); err != nil {
		return SampleSet{}, fmt.Errorf("%s: %w", path, err)
	}

	flags, err := readRaw(geo, flagsVariable)
	if err != nil {
		return SampleSet{}, fmt.Errorf("%s: %w", path, err)
	}
	s.Flags = make([]uint32, len(flags))
	for i, f := range flags {
		s.Flags[i] = uint32(int64(f))
	}

	if req.Quality != "" {
		q, err := readRaw(geo, req.Quality)
		if err != nil {
			return SampleSet{}, fmt.Errorf("%s: %s: %w", path, req.Quality, domain.ErrQualityDataMissing)
		}
		s.Quality = q
		s.HasQuality = true
	}
	return s, nil
}

func readRaw(g api.Group, name string) ([]float64, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	values, err := ncfile.Flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	return values, nil
}

// readVariable is readRaw with fill values masked and packing undone.
func readVariable(g api.Group, name string) ([]float64, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	values, err := ncfile.Flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	fill, hasFill := ncfile.Float(v.Attributes, "_FillValue")
	scale, hasScale := ncfile.Float(v.Attributes, "scale_factor")
	offset, _ := ncfile.Float(v.Attributes, "add_offset")
	if !hasScale {
		scale = 1
	}
	for i, x := range values {
		if hasFill && x == fill {
			values[i] = math.NaN()
			continue
		}
		values[i] = x*scale + offset
	}
	return values, nil
}
