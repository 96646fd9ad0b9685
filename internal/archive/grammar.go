package archive

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind selects one filename grammar.
type Kind int

const (
	KindUnknown Kind = iota
	KindL1
	KindGEO
	KindL2
	KindL2m
	KindL3b
	KindL3m
	KindClim
	KindAnom
)

func (k Kind) String() string {
	switch k {
	case KindL1:
		return "L1"
	case KindGEO:
		return "GEO"
	case KindL2:
		return "L2"
	case KindL2m:
		return "L2m"
	case KindL3b:
		return "L3b"
	case KindL3m:
		return "L3m"
	case KindClim:
		return "CLIM"
	case KindAnom:
		return "ANOM"
	}
	return "unknown"
}

// detectPattern reads the prefix and level token shared by every grammar.
var detectPattern = regexp.MustCompile(`^(CLIM\.|ANOM\.|[A-Z])(?:\d{13}|\d{7}|\d{3})\.(L1A|L1B|GEO|L2m|L2|L3b|L3m)`)

// fields collects the submatches of one grammar by name.
type fields map[string]string

// grammar is one level's filename syntax: a full-match pattern for parsing and
// a formatter for building.
type grammar struct {
	kind     Kind
	pattern  *regexp.Regexp
	required []string
	defaults func(r *Record)
	format   func(r Record) string
}

var grammars = map[Kind]*grammar{
	KindL1: {
		kind:     KindL1,
		pattern:  regexp.MustCompile(`^(?P<code>[A-Z])(?P<date>\d{7})(?P<time>\d{6})\.(?P<level>L1A|L1B)_(?P<tag>.+)$`),
		required: []string{"sensor", "date", "level"},
		defaults: func(r *Record) { setDefault(&r.Tag, "LAC") },
		format: func(r Record) string {
			return r.SensorCode + dateTimeToken(r.Date) + "." + string(r.Level) + "_" + r.Tag
		},
	},
	KindGEO: {
		kind:     KindGEO,
		pattern:  regexp.MustCompile(`^(?P<code>[A-Z])(?P<date>\d{7})(?P<time>\d{6})\.GEO(?P<tag>.*)$`),
		required: []string{"sensor", "date"},
		format: func(r Record) string {
			return r.SensorCode + dateTimeToken(r.Date) + ".GEO" + r.Tag
		},
	},
	KindL2: {
		kind:     KindL2,
		pattern:  regexp.MustCompile(`^(?P<code>[A-Z])(?P<date>\d{7})(?P<time>\d{6})\.L2_(?P<tag>[^_.]+)_(?P<suite>[^.]+)\.(?P<ext>.+)$`),
		required: []string{"sensor", "date", "suite"},
		defaults: func(r *Record) {
			setDefault(&r.Tag, "LAC")
			setDefault(&r.Ext, "nc")
		},
		format: func(r Record) string {
			return r.SensorCode + dateTimeToken(r.Date) + ".L2_" + r.Tag + "_" + r.Suite + "." + r.Ext
		},
	},
	KindL2m: {
		kind:     KindL2m,
		pattern:  regexp.MustCompile(`^(?P<code>[A-Z])(?P<date>\d{7})(?P<time>\d{6})\.L2m_(?P<suite>[^_.]+)_(?P<variable>[^.]+)\.(?P<ext>.+)$`),
		required: []string{"sensor", "date", "suite", "variable"},
		defaults: func(r *Record) { setDefault(&r.Ext, "tif") },
		format: func(r Record) string {
			return r.SensorCode + dateTimeToken(r.Date) + ".L2m_" + r.Suite + "_" + r.Variable + "." + r.Ext
		},
	},
	KindL3b: {
		kind:     KindL3b,
		pattern:  regexp.MustCompile(`^(?P<code>[A-Z])(?P<date>\d{7})\.L3b_(?P<composite>[^_.]+)_(?P<suite>[^_.]+)\.(?P<ext>.+)$`),
		required: []string{"sensor", "date", "composite", "suite"},
		defaults: func(r *Record) { setDefault(&r.Ext, "nc") },
		format: func(r Record) string {
			return r.SensorCode + dateToken(r.Date) + ".L3b_" + r.Composite + "_" + r.Suite + "." + r.Ext
		},
	},
	KindL3m: {
		kind:     KindL3m,
		pattern:  regexp.MustCompile(`^(?P<code>[A-Z])(?P<date>\d{7})\.L3m_(?P<composite>[^_.]+)_(?P<suite>[^_.]+)_(?P<variable>[^.]+)_(?P<resolution>[^_.]+)\.(?P<ext>.+)$`),
		required: []string{"sensor", "date", "composite", "suite", "variable", "resolution"},
		defaults: func(r *Record) { setDefault(&r.Ext, "tif") },
		format: func(r Record) string {
			return r.SensorCode + dateToken(r.Date) + ".L3m_" + mappedToken(r) + "." + r.Ext
		},
	},
	KindClim: {
		kind:     KindClim,
		pattern:  regexp.MustCompile(`^CLIM\.(?P<doy>\d{3})\.L3m_(?P<composite>[^_.]+)_(?P<suite>[^_.]+)_(?P<variable>[^.]+)_(?P<resolution>[^_.]+)_(?P<begin>\d{4})_(?P<end>\d{4})\.(?P<ext>.+)$`),
		required: []string{"doy", "composite", "suite", "variable", "resolution", "begin_year", "end_year"},
		defaults: func(r *Record) { setDefault(&r.Ext, "tif") },
		format: func(r Record) string {
			return fmt.Sprintf("CLIM.%03d.L3m_%s_%04d_%04d.%s", r.DOY, mappedToken(r), r.BeginYear, r.EndYear, r.Ext)
		},
	},
	KindAnom: {
		kind:     KindAnom,
		pattern:  regexp.MustCompile(`^ANOM\.(?P<date>\d{7})\.L3m_(?P<composite>[^_.]+)_(?P<suite>[^_.]+)_(?P<variable>[^.]+)_(?P<resolution>[^_.]+)\.(?P<ext>.+)$`),
		required: []string{"date", "composite", "suite", "variable", "resolution"},
		defaults: func(r *Record) { setDefault(&r.Ext, "tif") },
		format: func(r Record) string {
			return "ANOM." + dateToken(r.Date) + ".L3m_" + mappedToken(r) + "." + r.Ext
		},
	},
}

// match returns the named submatches of name, or nil.
func (g *grammar) match(name string) fields {
	m := g.pattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	f := make(fields, len(m))
	for i, n := range g.pattern.SubexpNames() {
		if n != "" {
			f[n] = m[i]
		}
	}
	return f
}

// missing lists the required fields absent from r.
func (g *grammar) missing(r Record) []string {
	var out []string
	for _, name := range g.required {
		var ok bool
		switch name {
		case "sensor":
			ok = r.SensorCode != ""
		case "date":
			ok = !r.Date.IsZero()
		case "level":
			ok = r.Level != ""
		case "doy":
			ok = r.DOY > 0
		case "suite":
			ok = r.Suite != ""
		case "variable":
			ok = r.Variable != ""
		case "resolution":
			ok = r.Resolution != ""
		case "composite":
			ok = r.Composite != ""
		case "begin_year":
			ok = r.BeginYear > 0
		case "end_year":
			ok = r.EndYear > 0
		}
		if !ok {
			out = append(out, name)
		}
	}
	return out
}

func mappedToken(r Record) string {
	return r.Composite + "_" + r.Suite + "_" + r.Variable + "_" + r.Resolution
}

func setDefault(field *string, v string) {
	if *field == "" {
		*field = v
	}
}

func dateToken(t time.Time) string {
	return fmt.Sprintf("%04d%03d", t.Year(), t.YearDay())
}

func dateTimeToken(t time.Time) string {
	return dateToken(t) + fmt.Sprintf("%02d%02d%02d", t.Hour(), t.Minute(), t.Second())
}

// parseDate reads YYYYDDD and an optional HHMMSS.
func parseDate(date, clock string) (time.Time, error) {
	year, _ := strconv.Atoi(date[:4])
	doy, _ := strconv.Atoi(date[4:])
	if doy < 1 || doy > daysIn(year) {
		return time.Time{}, fmt.Errorf("day of year %d out of range for %d", doy, year)
	}
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
	if clock == "" {
		return t, nil
	}
	hh, _ := strconv.Atoi(clock[0:2])
	mm, _ := strconv.Atoi(clock[2:4])
	ss, _ := strconv.Atoi(clock[4:6])
	if hh > 23 || mm > 59 || ss > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day %s", clock)
	}
	return t.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second), nil
}

func daysIn(year int) int {
	return time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC).YearDay()
}
