package archive

import "time"

// Level is a processing level token as it appears in filenames.
type Level string

const (
	LevelL1A Level = "L1A"
	LevelL1B Level = "L1B"
	LevelGEO Level = "GEO"
	LevelL2  Level = "L2"
	LevelL2m Level = "L2m"
	LevelL3b Level = "L3b"
	LevelL3m Level = "L3m"
)

// Record is the structured form of an archive filename.
type Record struct {
	SensorCode  string
	Sensor      string
	Date        time.Time // UTC; carries the time of day when HasTime is set
	HasTime     bool
	DOY         int // day of year; the only date field of a climatology
	Level       Level
	Suite       string
	Variable    string
	Resolution  string
	Composite   string
	Tag         string // processing tag of swath levels, e.g. "LAC"
	Ext         string // extension without the leading dot
	Climatology bool
	Anomaly     bool
	BeginYear   int
	EndYear     int
	Filename    string
}

// IsZero reports whether r is the empty record returned for foreign names.
func (r Record) IsZero() bool {
	return r.Level == ""
}

// Kind returns the grammar r belongs to.
func (r Record) Kind() Kind {
	switch {
	case r.Climatology:
		return KindClim
	case r.Anomaly:
		return KindAnom
	}
	switch r.Level {
	case LevelL1A, LevelL1B:
		return KindL1
	case LevelGEO:
		return KindGEO
	case LevelL2:
		return KindL2
	case LevelL2m:
		return KindL2m
	case LevelL3b:
		return KindL3b
	case LevelL3m:
		return KindL3m
	}
	return KindUnknown
}

// Day returns the calendar date of r at midnight UTC.
func (r Record) Day() time.Time {
	y, m, d := r.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// overlay copies every non-zero field of o onto r.
func (r Record) overlay(o Record) Record {
	if o.SensorCode != "" {
		r.SensorCode = o.SensorCode
		r.Sensor = o.Sensor
	} else if o.Sensor != "" {
		r.Sensor = o.Sensor
		r.SensorCode = ""
	}
	if !o.Date.IsZero() {
		r.Date = o.Date
		r.HasTime = o.HasTime
		r.DOY = o.Date.YearDay()
	}
	if o.DOY != 0 {
		r.DOY = o.DOY
	}
	if o.Level != "" {
		r.Level = o.Level
	}
	if o.Suite != "" {
		r.Suite = o.Suite
	}
	if o.Variable != "" {
		r.Variable = o.Variable
	}
	if o.Resolution != "" {
		r.Resolution = o.Resolution
	}
	if o.Composite != "" {
		r.Composite = o.Composite
	}
	if o.Tag != "" {
		r.Tag = o.Tag
	}
	if o.Ext != "" {
		r.Ext = o.Ext
	}
	if o.Climatology {
		r.Climatology, r.Anomaly = true, false
	}
	if o.Anomaly {
		r.Anomaly, r.Climatology = true, false
	}
	if o.BeginYear != 0 {
		r.BeginYear = o.BeginYear
	}
	if o.EndYear != 0 {
		r.EndYear = o.EndYear
	}
	r.Filename = ""
	return r
}
