package geo

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lonLat = "+proj=longlat"
	laea   = "+proj=laea +lat_0=20 +lon_0=-100"
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

// mockGroup is an in-memory NetCDF group tree holding attributes only.
type mockGroup struct {
	attrs     mapAttrs
	subgroups map[string]*mockGroup
}

func (g *mockGroup) Close()                       {}
func (g *mockGroup) Attributes() api.AttributeMap { return g.attrs }
func (g *mockGroup) ListVariables() []string      { return nil }
func (g *mockGroup) GetVariable(name string) (*api.Variable, error) {
	return nil, errors.New("no variable " + name)
}
func (g *mockGroup) GetVarGetter(name string) (api.VarGetter, error) {
	return nil, errors.New("no variable " + name)
}
func (g *mockGroup) ListSubgroups() []string {
	names := make([]string, 0, len(g.subgroups))
	for n := range g.subgroups {
		names = append(names, n)
	}
	return names
}
func (g *mockGroup) GetGroup(name string) (api.Group, error) {
	sub, ok := g.subgroups[name]
	if !ok {
		return nil, errors.New("no group " + name)
	}
	return sub, nil
}
func (g *mockGroup) ListTypes() []string             { return nil }
func (g *mockGroup) GetType(string) (string, bool)   { return "", false }
func (g *mockGroup) GetGoType(string) (string, bool) { return "", false }

func l3mapgenAttrs() mapAttrs {
	return mapAttrs{
		"number_of_lines":       int32(100),
		"number_of_columns":     int32(120),
		"westernmost_longitude": float32(-110),
		"southernmost_latitude": float32(10),
		"easternmost_longitude": float32(-90),
		"northernmost_latitude": float32(30),
		"map_projection":        "Lambert Azimuthal Equal Area",
		"spatialResolution":     "4.64 km",
	}
}

// --- tests ---

func newTestBuilder() *Builder {
	return NewBuilder(NewCache(8, nil))
}

func TestParseLength(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		angular bool
	}{
		{"1km", 1000, false},
		{"2 km", 2000, false},
		{"1000m", 1000, false},
		{"250 metres", 250, false},
		{"0.25deg", 0.25, true},
		{".5 degrees", 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			l, err := ParseLength(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, l.Value, 1e-12)
			assert.Equal(t, tt.angular, l.Angular)
		})
	}

	for _, bad := range []string{"", "km", "12", "3 furlongs"} {
		_, err := ParseLength(bad)
		assert.Error(t, err, bad)
	}
}

func TestProjection_GeographicIsIdentity(t *testing.T) {
	p, err := NewProjection(lonLat + " +lon_0=10")
	require.NoError(t, err)

	x, y, err := p.Forward(-97.5, 21.25)
	require.NoError(t, err)
	assert.Equal(t, -97.5, x)
	assert.Equal(t, 21.25, y)
	assert.True(t, p.IsGeographic())
	assert.Equal(t, 10.0, p.CentralLongitude())
	assert.Equal(t, 0.0, p.MetersPerUnit())
}

func TestProjection_LAEACentreIsOrigin(t *testing.T) {
	p, err := NewProjection(laea)
	require.NoError(t, err)

	x, y, err := p.Forward(-100, 20)
	require.NoError(t, err)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
	assert.Equal(t, -100.0, p.CentralLongitude())
	assert.Equal(t, 1.0, p.MetersPerUnit())

	xs, ys, ok := p.ForwardAll([]float64{-100, -99}, []float64{20, 20})
	require.Equal(t, []bool{true, true}, ok)
	assert.InDelta(t, 0, xs[0], 1e-6)
	assert.Greater(t, xs[1], 0.0)
	assert.Len(t, ys, 2)
}

func TestProjection_LAEAKnownDistance(t *testing.T) {
	p, err := NewProjection(laea)
	require.NoError(t, err)

	// One degree of longitude at 20N is about 104.6 km on the GRS80 ellipsoid.
	x, y, err := p.Forward(-99, 20)
	require.NoError(t, err)
	assert.InDelta(t, 104600, x, 500)
	assert.Greater(t, y, 0.0, "off-centre points on the central parallel curve north")

	_, yNorth, err := p.Forward(-100, 21)
	require.NoError(t, err)
	assert.InDelta(t, 110700, yNorth, 500)
}

func TestProjection_KilometreUnits(t *testing.T) {
	m, err := NewProjection(laea)
	require.NoError(t, err)
	km, err := NewProjection(laea + " +units=km")
	require.NoError(t, err)

	xm, ym, err := m.Forward(-97, 25)
	require.NoError(t, err)
	xk, yk, err := km.Forward(-97, 25)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, km.MetersPerUnit())
	assert.InDelta(t, xm/1000, xk, 1e-6)
	assert.InDelta(t, ym/1000, yk, 1e-6)

	res, err := NewBuilder(NewCache(2, nil)).Resolution("2km", laea+" +units=km")
	require.NoError(t, err)
	assert.Equal(t, 2.0, res)

	_, err = NewProjection(laea + " +units=furlong")
	assert.Error(t, err)
}

func TestProjection_ConcurrentForward(t *testing.T) {
	p, err := NewProjection(laea)
	require.NoError(t, err)
	want, _, err := p.Forward(-99, 20)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			xs, _, ok := p.ForwardAll([]float64{-99, -99}, []float64{20, 20})
			assert.Equal(t, []bool{true, true}, ok)
			assert.Equal(t, want, xs[1])
		}()
	}
	wg.Wait()
}

func TestProjection_Invalid(t *testing.T) {
	_, err := NewProjection("+lat_0=20")
	assert.Error(t, err)

	_, err = NewProjection(lonLat + " +lon_0=abc")
	assert.Error(t, err)
}

func TestFromExtent_Geographic(t *testing.T) {
	b := newTestBuilder()
	spec, err := b.FromExtent(domain.Extent{South: 0, North: 2, West: 0, East: 2}, 1, lonLat)
	require.NoError(t, err)

	assert.Equal(t, 2, spec.Rows)
	assert.Equal(t, 2, spec.Cols)
	assert.Equal(t, domain.NorthUp(1, 0, 2), spec.Transform)
	assert.Equal(t, lonLat, spec.Projection)
}

func TestFromExtent_ShapeCoversExtent(t *testing.T) {
	b := newTestBuilder()

	spec, err := b.FromExtent(domain.Extent{South: 0, North: 1, West: 0, East: 2.5}, 1, lonLat)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Rows)
	assert.Equal(t, 3, spec.Cols)

	// 0.3/0.1 is not exactly 3 in floating point.
	spec, err = b.FromExtent(domain.Extent{South: 0, North: 0.3, West: 0, East: 0.3}, 0.1, lonLat)
	require.NoError(t, err)
	assert.Equal(t, 3, spec.Rows)
	assert.Equal(t, 3, spec.Cols)
}

func TestFromExtent_InvalidGrid(t *testing.T) {
	b := newTestBuilder()

	_, err := b.FromExtent(domain.Extent{South: 1, North: 1, West: 0, East: 2}, 1, lonLat)
	assert.ErrorIs(t, err, domain.ErrInvalidGrid)

	_, err = b.FromExtent(domain.Extent{South: 0, North: 1, West: 0, East: 2}, 0, lonLat)
	assert.ErrorIs(t, err, domain.ErrInvalidGrid)
}

func TestFromExtent_Projected(t *testing.T) {
	b := newTestBuilder()
	ext := domain.Extent{South: 15, North: 25, West: -105, East: -95}
	spec, err := b.FromExtent(ext, 2000, laea)
	require.NoError(t, err)

	p, err := NewProjection(laea)
	require.NoError(t, err)
	x0, y0, err := p.Forward(ext.West, ext.North)
	require.NoError(t, err)

	assert.Equal(t, domain.NorthUp(2000, x0, y0), spec.Transform)
	assert.Positive(t, spec.Rows)
	assert.Positive(t, spec.Cols)
}

func TestFromSource_Geographic(t *testing.T) {
	b := newTestBuilder()
	spec, err := b.FromSource(SourceMeta{
		Resolution: "0.5deg",
		Lines:      4,
		Columns:    6,
		Projection: lonLat + " +lon_0=10",
		West:       -1,
		South:      2,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, spec.Rows)
	assert.Equal(t, 6, spec.Cols)
	assert.Equal(t, domain.NorthUp(0.5, -1, 4), spec.Transform)
}

func TestFromSource_MinYFromCentralMeridian(t *testing.T) {
	b := newTestBuilder()
	meta := SourceMeta{Resolution: "1km", Lines: 100, Columns: 120, Projection: laea, West: -110, South: 10}
	spec, err := b.FromSource(meta)
	require.NoError(t, err)

	p, err := NewProjection(laea)
	require.NoError(t, err)
	xSW, ySW, err := p.Forward(meta.West, meta.South)
	require.NoError(t, err)
	_, yCentral, err := p.Forward(-100, meta.South)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, spec.Resolution)
	assert.Equal(t, xSW, spec.Transform.C)
	assert.InDelta(t, yCentral+100*1000, spec.Transform.F, 1e-6)
	assert.NotEqual(t, ySW+100*1000, spec.Transform.F)
}

func TestFromSource_UnitMismatch(t *testing.T) {
	b := newTestBuilder()
	_, err := b.FromSource(SourceMeta{Resolution: "1km", Lines: 1, Columns: 1, Projection: lonLat})
	assert.Error(t, err)

	res, err := b.Resolution("2km", laea)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, res)
}

func TestCache_HitMissEvict(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	c := NewCache(1, metrics)

	p1, err := c.Get(lonLat)
	require.NoError(t, err)
	p2, err := c.Get(lonLat)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	_, err = c.Get(laea)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	p3, err := c.Get(lonLat)
	require.NoError(t, err)
	assert.NotSame(t, p1, p3, "evicted entry is recompiled")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProjectionCache.WithLabelValues("hit")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ProjectionCache.WithLabelValues("miss")))
}

func TestCache_FailuresNotCached(t *testing.T) {
	c := NewCache(4, nil)
	_, err := c.Get("+nonsense")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestSourceMeta_InputParameters(t *testing.T) {
	nc := &mockGroup{
		attrs: l3mapgenAttrs(),
		subgroups: map[string]*mockGroup{
			"processing_control": {subgroups: map[string]*mockGroup{
				"input_parameters": {attrs: mapAttrs{"resolution": "1km"}},
			}},
		},
	}

	meta, err := sourceMeta(nc, laea)
	require.NoError(t, err)
	assert.Equal(t, SourceMeta{
		Resolution: "1km",
		Lines:      100,
		Columns:    120,
		Projection: laea,
		West:       -110,
		South:      10,
		East:       -90,
		North:      30,
	}, meta)

	spec, err := newTestBuilder().FromSource(meta)
	require.NoError(t, err)
	assert.Equal(t, 100, spec.Rows)
	assert.Equal(t, 120, spec.Cols)
	assert.Equal(t, 1000.0, spec.Resolution)
}

func TestSourceMeta_FallsBackToGlobalResolution(t *testing.T) {
	meta, err := sourceMeta(&mockGroup{attrs: l3mapgenAttrs()}, "")
	require.NoError(t, err)
	assert.Equal(t, "4.64 km", meta.Resolution)
	assert.Equal(t, "Lambert Azimuthal Equal Area", meta.Projection)
}

func TestSourceMeta_MissingAttributes(t *testing.T) {
	for _, key := range []string{"number_of_lines", "number_of_columns", "westernmost_longitude", "southernmost_latitude", "spatialResolution"} {
		t.Run(key, func(t *testing.T) {
			attrs := l3mapgenAttrs()
			delete(attrs, key)
			_, err := sourceMeta(&mockGroup{attrs: attrs}, laea)
			require.Error(t, err)
		})
	}

	attrs := l3mapgenAttrs()
	delete(attrs, "map_projection")
	_, err := sourceMeta(&mockGroup{attrs: attrs}, "")
	assert.ErrorContains(t, err, "map_projection")
}

func TestReadSourceMeta_MissingFile(t *testing.T) {
	_, err := ReadSourceMeta(filepath.Join(t.TempDir(), "A2016001.L3m_DAY_CHL_chlor_a_1km.nc"), laea)
	assert.Error(t, err)
}
