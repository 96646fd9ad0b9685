package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// Query narrows Find. Empty fields match anything.
type Query struct {
	SensorCode  string
	Suite       string
	Variable    string
	Resolution  string
	Composite   string
	Ext         string
	Climatology bool
	Anomaly     bool
}

// Locator resolves archive paths and queries existing products.
type Locator struct {
	fsys  fs.FS
	root  string
	codec *Codec
}

// NewLocator creates a Locator over the directory tree at root.
func NewLocator(root string, codec *Codec) *Locator {
	return NewLocatorFS(os.DirFS(root), root, codec)
}

// NewLocatorFS creates a Locator listing fsys. Returned paths are joined to root.
func NewLocatorFS(fsys fs.FS, root string, codec *Codec) *Locator {
	return &Locator{fsys: fsys, root: root, codec: codec}
}

// Root returns the archive root.
func (l *Locator) Root() string { return l.root }

// PathFor returns the archive path of r.
func (l *Locator) PathFor(r Record) (string, error) {
	return l.codec.PathFor(r, l.root)
}

// Exists reports whether the product r is present in the archive.
func (l *Locator) Exists(r Record) (bool, error) {
	full, err := l.codec.PathFor(r, "")
	if err != nil {
		return false, err
	}
	_, err = fs.Stat(l.fsys, filepath.ToSlash(full))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Find returns the sorted paths of every product of level on date matching
// q. No match is an empty result, not an error.
func (l *Locator) Find(date time.Time, level Level, q Query) ([]string, error) {
	pattern, err := globFor(date, level, q)
	if err != nil {
		return nil, err
	}
	matches, err := fs.Glob(l.fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", pattern, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		r, err := l.codec.Parse(m, true)
		if err != nil || !q.accepts(r, date, level) {
			continue
		}
		out = append(out, filepath.Join(l.root, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}

// FindRecords is Find returning parsed records.
func (l *Locator) FindRecords(date time.Time, level Level, q Query) ([]Record, []string, error) {
	paths, err := l.Find(date, level, q)
	if err != nil {
		return nil, nil, err
	}
	records := make([]Record, len(paths))
	for i, p := range paths {
		records[i], _ = l.codec.Parse(p, true)
	}
	return records, paths, nil
}

func (q Query) accepts(r Record, date time.Time, level Level) bool {
	if r.Climatology != q.Climatology || r.Anomaly != q.Anomaly {
		return false
	}
	if r.Climatology {
		if r.DOY != date.YearDay() {
			return false
		}
	} else if r.Day() != dayOf(date) {
		return false
	}
	if r.Level != level {
		return false
	}
	return match(q.SensorCode, r.SensorCode) &&
		match(q.Suite, r.Suite) &&
		match(q.Variable, r.Variable) &&
		match(q.Resolution, r.Resolution) &&
		match(q.Composite, r.Composite) &&
		match(q.Ext, r.Ext)
}

func match(want, got string) bool {
	return want == "" || want == got
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// globFor builds the locating pattern. Unset selectors become wildcards and
// every hit is re-checked by parsing, so the pattern may be loose.
func globFor(date time.Time, level Level, q Query) (string, error) {
	code := or(q.SensorCode, "[A-Z]")
	sensorDir := "*"
	ext := or(q.Ext, "*")
	comp := or(q.Composite, "*")
	day := dateToken(date)
	yd := yearDoy(date)
	mapped := comp + "_" + or(q.Suite, "*") + "_" + or(q.Variable, "*") + "_" + or(q.Resolution, "*")

	switch {
	case q.Climatology:
		if level != LevelL3m {
			return "", fmt.Errorf("find: climatologies are L3m, got %s", level)
		}
		return path.Join("combined/L3m", comp+"_clim", fmt.Sprintf("%03d", date.YearDay()),
			fmt.Sprintf("CLIM.%03d.L3m_%s_*_*.%s", date.YearDay(), mapped, ext)), nil
	case q.Anomaly:
		if level != LevelL3m {
			return "", fmt.Errorf("find: anomalies are L3m, got %s", level)
		}
		return path.Join("combined/L3m", comp+"_anom", yd, "ANOM."+day+".L3m_"+mapped+"."+ext), nil
	}

	switch level {
	case LevelL1A, LevelL1B:
		return path.Join(sensorDir, string(level), yd, code+day+"??????."+string(level)+"_*"), nil
	case LevelGEO:
		return path.Join(sensorDir, string(LevelL1A), yd, code+day+"??????.GEO*"), nil
	case LevelL2:
		return path.Join(sensorDir, string(level), yd, code+day+"??????.L2_*_"+or(q.Suite, "*")+"."+ext), nil
	case LevelL2m:
		return path.Join(sensorDir, string(level), yd, code+day+"??????.L2m_"+or(q.Suite, "*")+"_"+or(q.Variable, "*")+"."+ext), nil
	case LevelL3b:
		return path.Join(sensorDir, string(level), yd, code+day+".L3b_"+comp+"_"+or(q.Suite, "*")+"."+ext), nil
	case LevelL3m:
		return path.Join(sensorDir, string(level), comp, yd, code+day+".L3m_"+mapped+"."+ext), nil
	}
	return "", fmt.Errorf("find: unsupported level %q", level)
}

func or(v, wildcard string) string {
	if v == "" {
		return wildcard
	}
	return v
}

// Codec returns the codec the locator names products with.
func (l *Locator) Codec() *Codec { return l.codec }
