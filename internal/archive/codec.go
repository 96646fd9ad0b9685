// Package archive names and locates products in the ocean-color archive.
//
// Every product has exactly one canonical filename per processing level and
// one canonical location under the archive root. The Codec converts between
// filenames and Records; the Locator maps Records to paths and queries the
// archive through an fs.FS.
package archive

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
)

// Codec parses and builds archive filenames.
type Codec struct {
	catalog *catalog.Catalog
}

// NewCodec creates a Codec that resolves sensor codes with cat.
func NewCodec(cat *catalog.Catalog) *Codec {
	return &Codec{catalog: cat}
}

// Parse reads an archive filename. Directory components are ignored.
// With strict set an unknown name is ErrPatternMismatch; otherwise it yields
// a zero Record carrying only Filename.
func (c *Codec) Parse(name string, strict bool) (Record, error) {
	base := path.Base(filepath.ToSlash(name))
	r, err := c.parse(base)
	if err != nil {
		if strict {
			return Record{}, err
		}
		return Record{Filename: base}, nil
	}
	return r, nil
}

func (c *Codec) parse(name string) (Record, error) {
	d := detectPattern.FindStringSubmatch(name)
	if d == nil {
		return Record{}, fmt.Errorf("parse %q: %w", name, domain.ErrPatternMismatch)
	}
	kind := detectKind(d[1], d[2])
	g := grammars[kind]
	f := g.match(name)
	if f == nil {
		return Record{}, fmt.Errorf("parse %q as %s: %w", name, kind, domain.ErrPatternMismatch)
	}

	r := Record{
		Level:      Level(d[2]),
		Suite:      f["suite"],
		Variable:   f["variable"],
		Resolution: f["resolution"],
		Composite:  f["composite"],
		Tag:        f["tag"],
		Ext:        f["ext"],
		Filename:   name,
	}
	if lvl, ok := f["level"]; ok {
		r.Level = Level(lvl)
	}

	switch kind {
	case KindClim, KindAnom:
		r.Climatology = kind == KindClim
		r.Anomaly = kind == KindAnom
		r.SensorCode = catalog.CombinedCode
	default:
		r.SensorCode = f["code"]
	}
	sensor, err := c.catalog.SensorName(r.SensorCode)
	if err != nil {
		return Record{}, fmt.Errorf("parse %q: %w: %w", name, domain.ErrPatternMismatch, err)
	}
	r.Sensor = sensor

	if date, ok := f["date"]; ok {
		t, err := parseDate(date, f["time"])
		if err != nil {
			return Record{}, fmt.Errorf("parse %q: %w: %w", name, domain.ErrPatternMismatch, err)
		}
		r.Date = t
		r.HasTime = f["time"] != ""
		r.DOY = t.YearDay()
	}
	if doy, ok := f["doy"]; ok {
		r.DOY, _ = strconv.Atoi(doy)
		if r.DOY < 1 || r.DOY > 366 {
			return Record{}, fmt.Errorf("parse %q: day of year %d: %w", name, r.DOY, domain.ErrPatternMismatch)
		}
		r.BeginYear, _ = strconv.Atoi(f["begin"])
		r.EndYear, _ = strconv.Atoi(f["end"])
	}
	return r, nil
}

func detectKind(prefix, level string) Kind {
	switch prefix {
	case "CLIM.":
		return KindClim
	case "ANOM.":
		return KindAnom
	}
	return Record{Level: Level(level)}.Kind()
}

// Build formats the canonical filename of r.
func (c *Codec) Build(r Record) (string, error) {
	kind := r.Kind()
	g, ok := grammars[kind]
	if !ok {
		return "", fmt.Errorf("build: level %q: %w: level", r.Level, domain.ErrMissingField)
	}
	if r.SensorCode == "" && r.Sensor != "" {
		code, err := c.catalog.SensorCode(r.Sensor)
		if err != nil {
			return "", fmt.Errorf("build %s: %w", kind, err)
		}
		r.SensorCode = code
	}
	if kind == KindClim && r.DOY == 0 && !r.Date.IsZero() {
		r.DOY = r.Date.YearDay()
	}
	if missing := g.missing(r); len(missing) > 0 {
		return "", fmt.Errorf("build %s: %w: %s", kind, domain.ErrMissingField, strings.Join(missing, ", "))
	}
	if g.defaults != nil {
		g.defaults(&r)
	}
	return g.format(r), nil
}

// BuildFrom reparses source and builds a name from it with the non-zero
// fields of overrides applied. Tag and extension fall back to the defaults of
// the new level when the level changes.
func (c *Codec) BuildFrom(source string, overrides Record) (string, error) {
	parsed, err := c.Parse(source, true)
	if err != nil {
		return "", err
	}
	merged := parsed.overlay(overrides)
	if merged.Kind() != parsed.Kind() {
		merged.Tag = overrides.Tag
		merged.Ext = overrides.Ext
	}
	return c.Build(merged)
}

// PathFor returns the archive path of r under root. The filename is built
// from r when r.Filename is empty.
func (c *Codec) PathFor(r Record, root string) (string, error) {
	if r.Sensor == "" && r.SensorCode != "" {
		name, err := c.catalog.SensorName(r.SensorCode)
		if err != nil {
			return "", err
		}
		r.Sensor = name
	}
	name := r.Filename
	if name == "" {
		var err error
		if name, err = c.Build(r); err != nil {
			return "", err
		}
	}
	dir, err := relDir(r)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(dir), name), nil
}

// relDir returns the slash-separated directory of r relative to the root.
func relDir(r Record) (string, error) {
	switch r.Kind() {
	case KindClim:
		if r.Composite == "" || r.DOY == 0 {
			return "", fmt.Errorf("path for climatology: %w: composite, doy", domain.ErrMissingField)
		}
		return fmt.Sprintf("combined/L3m/%s_clim/%03d", r.Composite, r.DOY), nil
	case KindAnom:
		if r.Composite == "" || r.Date.IsZero() {
			return "", fmt.Errorf("path for anomaly: %w: composite, date", domain.ErrMissingField)
		}
		return fmt.Sprintf("combined/L3m/%s_anom/%s", r.Composite, yearDoy(r.Date)), nil
	case KindUnknown:
		return "", fmt.Errorf("path: %w: level", domain.ErrMissingField)
	}

	if r.Sensor == "" || r.Date.IsZero() {
		return "", fmt.Errorf("path for %s: %w: sensor, date", r.Level, domain.ErrMissingField)
	}
	switch r.Kind() {
	case KindL3m:
		if r.Composite == "" {
			return "", fmt.Errorf("path for L3m: %w: composite", domain.ErrMissingField)
		}
		return fmt.Sprintf("%s/L3m/%s/%s", r.Sensor, r.Composite, yearDoy(r.Date)), nil
	case KindGEO:
		return fmt.Sprintf("%s/%s/%s", r.Sensor, LevelL1A, yearDoy(r.Date)), nil
	}
	return fmt.Sprintf("%s/%s/%s", r.Sensor, r.Level, yearDoy(r.Date)), nil
}

func yearDoy(t time.Time) string {
	return fmt.Sprintf("%04d/%03d", t.Year(), t.YearDay())
}

// DatesOf returns the distinct calendar dates of the parsable names, sorted.
// Climatologies carry no date and are skipped.
func (c *Codec) DatesOf(names []string) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, n := range names {
		r, err := c.Parse(n, true)
		if err != nil || r.Date.IsZero() {
			continue
		}
		d := r.Day()
		if !seen[d] {
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// IsDay reports whether a swath record was acquired after threshold (time of
// day, UTC). Records without a time are never day passes.
func IsDay(r Record, threshold time.Duration) bool {
	if !r.HasTime {
		return false
	}
	return r.Date.Sub(r.Day()) > threshold
}
