// Package ncfile holds helpers for values returned by go-native-netcdf, which
// hands back nested typed slices ([][]float32, [][]int32, ...) and loosely
// typed attributes.
package ncfile

import (
	"fmt"
	"reflect"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// Open opens a NetCDF classic or NetCDF4/HDF5 file.
func Open(path string) (api.Group, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return g, nil
}

// Flatten converts a numeric scalar or (nested) slice to a flat []float64 in
// row-major order.
func Flatten(v interface{}) ([]float64, error) {
	var out []float64
	if err := flatten(reflect.ValueOf(v), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(v reflect.Value, out *[]float64) error {
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := flatten(v.Index(i), out); err != nil {
				return err
			}
		}
		return nil
	case reflect.Float32, reflect.Float64:
		*out = append(*out, v.Float())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		*out = append(*out, float64(v.Int()))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		*out = append(*out, float64(v.Uint()))
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("nil value")
		}
		return flatten(v.Elem(), out)
	default:
		return fmt.Errorf("unsupported value type %s", v.Type())
	}
	return nil
}

// Float reads a numeric attribute. Array attributes yield their first element.
func Float(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	vals, err := Flatten(v)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// Int reads an integer attribute.
func Int(attrs api.AttributeMap, key string) (int, bool) {
	f, ok := Float(attrs, key)
	return int(f), ok
}

// String reads a text attribute.
func String(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
