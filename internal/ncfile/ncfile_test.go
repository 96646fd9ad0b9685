package ncfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mapAttrs map[string]interface{}

func (m mapAttrs) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func (m mapAttrs) Get(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func (m mapAttrs) GetType(string) (string, bool)   { return "", false }
func (m mapAttrs) GetGoType(string) (string, bool) { return "", false }

// --- tests ---

func TestFlatten_NestedSlices(t *testing.T) {
	got, err := Flatten([][]float32{{1, 2}, {3, 4.5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4.5}, got)

	got, err = Flatten([][]int32{{-1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2}, got)

	got, err = Flatten([]uint8{7})
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, got)

	got, err = Flatten(int16(3))
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, got)
}

func TestFlatten_Unsupported(t *testing.T) {
	_, err := Flatten([]string{"a"})
	assert.Error(t, err)
}

func TestAttributes(t *testing.T) {
	attrs := mapAttrs{
		"number_of_lines": int32(1361),
		"geotransform":    []float64{1, 0, 2, 0, -1, 3},
		"map_projection":  "+proj=laea",
		"scale_factor":    []float32{0.005},
	}

	n, ok := Int(attrs, "number_of_lines")
	require.True(t, ok)
	assert.Equal(t, 1361, n)

	first, ok := Float(attrs, "geotransform")
	require.True(t, ok)
	assert.InDelta(t, 1, first, 0)

	s, ok := String(attrs, "map_projection")
	require.True(t, ok)
	assert.Equal(t, "+proj=laea", s)

	f, ok := Float(attrs, "scale_factor")
	require.True(t, ok)
	assert.InDelta(t, 0.005, f, 1e-9)

	_, ok = Float(attrs, "missing")
	assert.False(t, ok)
	_, ok = String(nil, "x")
	assert.False(t, ok)
}
