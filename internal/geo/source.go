package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/ocean-color-archive/internal/ncfile"
)

// ReadSourceMeta reads the georeference attributes l3mapgen writes into its
// NetCDF output. projection overrides the file's map_projection when set.
func ReadSourceMeta(path, projection string) (SourceMeta, error) {
	nc, err := ncfile.Open(path)
	if err != nil {
		return SourceMeta{}, err
	}
	defer nc.Close()

	meta, err := sourceMeta(nc, projection)
	if err != nil {
		return SourceMeta{}, fmt.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

func sourceMeta(nc api.Group, projection string) (SourceMeta, error) {
	attrs := nc.Attributes()
	var meta SourceMeta
	var ok bool
	if meta.Lines, ok = ncfile.Int(attrs, "number_of_lines"); !ok {
		return SourceMeta{}, errors.New("missing number_of_lines")
	}
	if meta.Columns, ok = ncfile.Int(attrs, "number_of_columns"); !ok {
		return SourceMeta{}, errors.New("missing number_of_columns")
	}
	if meta.West, ok = ncfile.Float(attrs, "westernmost_longitude"); !ok {
		return SourceMeta{}, errors.New("missing westernmost_longitude")
	}
	if meta.South, ok = ncfile.Float(attrs, "southernmost_latitude"); !ok {
		return SourceMeta{}, errors.New("missing southernmost_latitude")
	}
	meta.East, _ = ncfile.Float(attrs, "easternmost_longitude")
	meta.North, _ = ncfile.Float(attrs, "northernmost_latitude")

	meta.Projection = projection
	if meta.Projection == "" {
		if meta.Projection, ok = ncfile.String(attrs, "map_projection"); !ok {
			return SourceMeta{}, errors.New("missing map_projection")
		}
	}

	res, err := sourceResolution(nc)
	if err != nil {
		return SourceMeta{}, err
	}
	meta.Resolution = res
	return meta, nil
}

// sourceResolution prefers the resolution argument l3mapgen was run with and
// falls back to the spatialResolution global attribute.
func sourceResolution(nc api.Group) (string, error) {
	if control, err := nc.GetGroup("processing_control"); err == nil {
		defer control.Close()
		if params, err := control.GetGroup("input_parameters"); err == nil {
			defer params.Close()
			if res, ok := ncfile.String(params.Attributes(), "resolution"); ok {
				return strings.TrimSpace(res), nil
			}
		}
	}
	if res, ok := ncfile.String(nc.Attributes(), "spatialResolution"); ok {
		return strings.TrimSpace(res), nil
	}
	return "", errors.New("missing resolution")
}
