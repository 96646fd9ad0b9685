package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/twpayne/go-proj/v10"
)

// lonLatDef is the geographic source system of every swath coordinate.
const lonLatDef = "+proj=longlat +datum=WGS84 +no_defs +type=crs"

// Projection maps geographic coordinates in decimal degrees to a target
// coordinate system described by a proj4 string.
type Projection struct {
	def     string
	name    string
	lon0    float64
	toMeter float64

	mu      sync.Mutex // guards forward; a PJ is not safe for concurrent use
	forward *proj.PJ
}

// NewProjection compiles a proj4 definition.
func NewProjection(def string) (*Projection, error) {
	params := proj4Params(def)
	name := params["proj"]
	if name == "" {
		return nil, fmt.Errorf("projection %q: missing +proj", def)
	}

	p := &Projection{def: def, name: name, toMeter: 1}
	if v, ok := params["lon_0"]; ok {
		lon0, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("projection %q: lon_0: %w", def, err)
		}
		p.lon0 = lon0
	}
	if p.IsGeographic() {
		return p, nil
	}

	toMeter, err := linearUnit(params)
	if err != nil {
		return nil, fmt.Errorf("projection %q: %w", def, err)
	}
	p.toMeter = toMeter

	fwd, err := proj.NewCRSToCRS(lonLatDef, asCRS(def), nil)
	if err != nil {
		return nil, fmt.Errorf("projection %q: transform: %w", def, err)
	}
	p.forward = fwd
	return p, nil
}

// Definition returns the proj4 string.
func (p *Projection) Definition() string { return p.def }

// IsGeographic reports whether projected coordinates are longitude/latitude.
func (p *Projection) IsGeographic() bool {
	switch p.name {
	case "longlat", "latlong", "lonlat", "latlon":
		return true
	}
	return false
}

// CentralLongitude returns +lon_0, or 0 when unset.
func (p *Projection) CentralLongitude() float64 { return p.lon0 }

// MetersPerUnit returns the size of one projection unit in metres. It is 0
// for geographic systems.
func (p *Projection) MetersPerUnit() float64 {
	if p.IsGeographic() {
		return 0
	}
	return p.toMeter
}

// Forward projects one point.
func (p *Projection) Forward(lon, lat float64) (x, y float64, err error) {
	if p.forward == nil {
		return lon, lat, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.project(lon, lat)
}

// ForwardAll projects parallel coordinate arrays. ok[i] is false where the
// point cannot be projected.
func (p *Projection) ForwardAll(lons, lats []float64) (xs, ys []float64, ok []bool) {
	xs = make([]float64, len(lons))
	ys = make([]float64, len(lons))
	ok = make([]bool, len(lons))
	if p.forward == nil {
		copy(xs, lons)
		copy(ys, lats)
		for i := range ok {
			ok[i] = true
		}
		return xs, ys, ok
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range lons {
		x, y, err := p.project(lons[i], lats[i])
		if err != nil {
			continue
		}
		xs[i], ys[i], ok[i] = x, y, true
	}
	return xs, ys, ok
}

// project must be called with mu held.
func (p *Projection) project(lon, lat float64) (float64, float64, error) {
	c, err := p.forward.Forward(proj.NewCoord(lon, lat, 0, 0))
	if err != nil {
		return 0, 0, fmt.Errorf("project (%v, %v): %w", lon, lat, err)
	}
	x, y := c.X(), c.Y()
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, fmt.Errorf("project (%v, %v): outside projection domain", lon, lat)
	}
	return x, y, nil
}

// asCRS marks a proj4 string as a coordinate reference system so PROJ keeps
// its longitude, latitude axis order.
func asCRS(def string) string {
	if strings.Contains(def, "+type=crs") {
		return def
	}
	return def + " +type=crs"
}

// linearUnit returns metres per projection unit from +to_meter or +units.
func linearUnit(params map[string]string) (float64, error) {
	if v, ok := params["to_meter"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return 0, fmt.Errorf("invalid to_meter %q", v)
		}
		return f, nil
	}
	if u, ok := params["units"]; ok {
		f, ok := metresPerUnit[strings.ToLower(u)]
		if !ok {
			return 0, fmt.Errorf("unsupported units %q", u)
		}
		return f, nil
	}
	return 1, nil
}

// proj4Params splits "+proj=laea +lat_0=20 +no_defs" into a map.
func proj4Params(def string) map[string]string {
	params := make(map[string]string)
	for _, tok := range strings.Fields(def) {
		tok = strings.TrimPrefix(tok, "+")
		k, v, _ := strings.Cut(tok, "=")
		params[k] = v
	}
	return params
}
