package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/ocean-color-archive/internal/archive"
	"github.com/couchcryptid/ocean-color-archive/internal/batch"
	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/composite"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/period"
	"github.com/couchcryptid/ocean-color-archive/internal/swath"
)

// CombinedSensor is the sensor code of multi-sensor products.
const CombinedSensor = "X"

const (
	dailyComposite = "DAY"
	productExt     = "nc"
)

// Period is one time-composite window.
type Period struct {
	Delta period.Delta
	Dates []time.Time
}

// Start returns the first member date, which dates the composite.
func (p Period) Start() time.Time { return p.Dates[0] }

// BinItems returns one item per date, sensor and variable binning that day's
// L2 swaths onto the configured grid. Night selects night passes and night
// suites.
func (r *Runner) BinItems(dates []time.Time, sensors, variables []string, night bool) ([]batch.Item, error) {
	var items []batch.Item
	for _, date := range dates {
		date = dayOf(date)
		for _, code := range r.catalog.ExpandSensors(sensors) {
			sensor, err := r.catalog.SensorName(code)
			if err != nil {
				return nil, err
			}
			for _, variable := range variables {
				item, err := r.binItem(date, code, sensor, variable, night)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
		}
	}
	return items, nil
}

func (r *Runner) binItem(date time.Time, code, sensor, variable string, night bool) (batch.Item, error) {
	suite, err := r.catalog.SuiteForVariable(variable, night)
	if err != nil {
		return batch.Item{}, err
	}
	l2Suite, err := r.catalog.L2Suite(suite)
	if err != nil {
		return batch.Item{}, err
	}
	mask, err := r.maskFor(suite)
	if err != nil {
		return batch.Item{}, err
	}
	var formula *swath.Formula
	if f, ok := swath.FormulaFor(variable, sensor); ok {
		formula = &f
	}

	out := archive.Record{
		SensorCode: code,
		Sensor:     sensor,
		Date:       date,
		Level:      archive.LevelL3m,
		Suite:      suite,
		Variable:   variable,
		Resolution: r.settings.Resolution,
		Composite:  dailyComposite,
		Ext:        productExt,
	}
	return r.item(out, func(ctx context.Context) (domain.BinnedGrid, string, error) {
		files, err := r.swaths(date, code, l2Suite, night)
		if err != nil {
			return domain.BinnedGrid{}, "", err
		}
		grid, err := r.binner.Bin(ctx, swath.Job{
			Files:    files,
			Variable: variable,
			Formula:  formula,
			Grid:     r.settings.Grid,
			Mask:     mask,
			Nodata:   r.catalog.Nodata(variable),
		})
		return grid, "", err
	})
}

func (r *Runner) maskFor(suite string) (swath.MaskSpec, error) {
	bits := r.settings.BitMask
	if bits == 0 {
		var err error
		if bits, err = r.catalog.BitMask(suite); err != nil {
			return swath.MaskSpec{}, err
		}
	}
	qual, err := r.catalog.QualityVariable(suite)
	if err != nil {
		return swath.MaskSpec{}, err
	}
	return swath.MaskSpec{BitMask: bits, QualityVariable: qual, MaxQuality: r.settings.MaxQuality}, nil
}

// swaths returns the L2 files of one sensor and day, keeping day or night
// passes only.
func (r *Runner) swaths(date time.Time, code, l2Suite string, night bool) ([]string, error) {
	records, paths, err := r.locator.FindRecords(date, archive.LevelL2, archive.Query{SensorCode: code, Suite: l2Suite})
	if err != nil {
		return nil, err
	}
	var out []string
	for i, rec := range records {
		if archive.IsDay(rec, r.settings.DayThreshold) != night {
			out = append(out, paths[i])
		}
	}
	return out, nil
}

// DailyCompositeItems returns one item per date and variable reducing every
// sensor's daily product into a combined one.
func (r *Runner) DailyCompositeItems(dates []time.Time, variables []string, night bool) ([]batch.Item, error) {
	var items []batch.Item
	for _, date := range dates {
		date = dayOf(date)
		for _, variable := range variables {
			suite, err := r.catalog.SuiteForVariable(variable, night)
			if err != nil {
				return nil, err
			}
			out := r.mapped(CombinedSensor, date, dailyComposite, suite, variable)
			item, err := r.item(out, func(ctx context.Context) (domain.BinnedGrid, string, error) {
				paths, err := r.locator.Find(date, archive.LevelL3m, r.query("", dailyComposite, suite, variable))
				if err != nil {
					return domain.BinnedGrid{}, "", err
				}
				return r.reduce(ctx, withoutCombined(r.codec, paths))
			})
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// TimeCompositeItems partitions [begin, end] by delta and returns one item
// per period and variable.
func (r *Runner) TimeCompositeItems(begin, end time.Time, delta period.Delta, variables []string, night bool) ([]batch.Item, error) {
	var periods []Period
	for _, dates := range period.Partition(dayOf(begin), dayOf(end), delta) {
		periods = append(periods, Period{Delta: delta, Dates: dates})
	}
	return r.CompositeItems(periods, variables, night)
}

// CompositeItems returns one item per period and variable reducing the
// combined daily products of the period's dates. The product is dated by the
// period's first day.
func (r *Runner) CompositeItems(periods []Period, variables []string, night bool) ([]batch.Item, error) {
	var items []batch.Item
	for _, p := range periods {
		if len(p.Dates) == 0 {
			continue
		}
		name := period.CompositeName(p.Delta)
		for _, variable := range variables {
			suite, err := r.catalog.SuiteForVariable(variable, night)
			if err != nil {
				return nil, err
			}
			out := r.mapped(CombinedSensor, p.Start(), name, suite, variable)
			dates := p.Dates
			item, err := r.item(out, func(ctx context.Context) (domain.BinnedGrid, string, error) {
				var paths []string
				for _, d := range dates {
					found, err := r.locator.Find(d, archive.LevelL3m, r.query(CombinedSensor, dailyComposite, suite, variable))
					if err != nil {
						return domain.BinnedGrid{}, "", err
					}
					paths = append(paths, found...)
				}
				return r.reduce(ctx, paths)
			})
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// PlanUpdates returns the composite periods touched by newly produced files,
// one per distinct period start and delta, ordered by start date.
func (r *Runner) PlanUpdates(names []string, deltas []period.Delta) []Period {
	type key struct {
		start time.Time
		delta period.Delta
	}
	seen := make(map[key]bool)
	var out []Period
	for _, date := range r.codec.DatesOf(names) {
		for _, d := range deltas {
			members := period.MemberDates(date, d)
			if len(members) == 0 {
				continue
			}
			k := key{start: members[0], delta: d}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, Period{Delta: d, Dates: members})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start().Before(out[j].Start()) })
	return out
}

// ClimatologyItems returns one item per period of the year and variable
// reducing the combined composites of that period over [beginYear, endYear].
// Periods are matched by their position in the year and keyed by the day of
// year of the period in beginYear.
func (r *Runner) ClimatologyItems(beginYear, endYear int, delta period.Delta, variables []string, night bool) ([]batch.Item, error) {
	if endYear < beginYear {
		return nil, fmt.Errorf("climatology years %d-%d: end before begin", beginYear, endYear)
	}
	byYear := make([][][]time.Time, 0, endYear-beginYear+1)
	for y := beginYear; y <= endYear; y++ {
		byYear = append(byYear, period.Partition(
			time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
			delta,
		))
	}
	name := period.CompositeName(delta)

	var items []batch.Item
	for i, ref := range byYear[0] {
		var starts []time.Time
		for _, year := range byYear {
			if i < len(year) {
				starts = append(starts, year[i][0])
			}
		}
		for _, variable := range variables {
			suite, err := r.catalog.SuiteForVariable(variable, night)
			if err != nil {
				return nil, err
			}
			out := archive.Record{
				DOY:         ref[0].YearDay(),
				Level:       archive.LevelL3m,
				Suite:       suite,
				Variable:    variable,
				Resolution:  r.settings.Resolution,
				Composite:   name,
				Ext:         productExt,
				Climatology: true,
				BeginYear:   beginYear,
				EndYear:     endYear,
			}
			item, err := r.item(out, func(ctx context.Context) (domain.BinnedGrid, string, error) {
				var paths []string
				for _, s := range starts {
					found, err := r.locator.Find(s, archive.LevelL3m, r.query(CombinedSensor, name, suite, variable))
					if err != nil {
						return domain.BinnedGrid{}, "", err
					}
					paths = append(paths, found...)
				}
				return r.reduce(ctx, paths)
			})
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// AnomalyItems returns one item per period overlapping [begin, end] and
// variable comparing the combined composite with the climatology of its day
// of year. Periods are aligned on 1 January as climatologies are.
func (r *Runner) AnomalyItems(begin, end time.Time, delta period.Delta, variables []string, night bool) ([]batch.Item, error) {
	name := period.CompositeName(delta)
	nodata, err := r.catalog.DomainNodata(catalog.AnomalyDomain)
	if err != nil {
		return nil, err
	}
	var items []batch.Item
	for _, dates := range period.Covering(dayOf(begin), dayOf(end), delta) {
		start := dates[0]
		for _, variable := range variables {
			suite, err := r.catalog.SuiteForVariable(variable, night)
			if err != nil {
				return nil, err
			}
			out := archive.Record{
				Date:       start,
				Level:      archive.LevelL3m,
				Suite:      suite,
				Variable:   variable,
				Resolution: r.settings.Resolution,
				Composite:  name,
				Ext:        productExt,
				Anomaly:    true,
			}
			item, err := r.item(out, func(ctx context.Context) (domain.BinnedGrid, string, error) {
				q := r.query(CombinedSensor, name, suite, variable)
				products, err := r.locator.Find(start, archive.LevelL3m, q)
				if err != nil {
					return domain.BinnedGrid{}, "", err
				}
				q.SensorCode = ""
				q.Climatology = true
				clims, err := r.locator.Find(start, archive.LevelL3m, q)
				if err != nil {
					return domain.BinnedGrid{}, "", err
				}
				if len(products) == 0 || len(clims) == 0 {
					return domain.BinnedGrid{}, "", fmt.Errorf("anomaly %s %s: %w", variable, start.Format(time.DateOnly), domain.ErrMissingInput)
				}
				grids, err := readAll(ctx, []string{products[0], clims[len(clims)-1]})
				if err != nil {
					return domain.BinnedGrid{}, "", err
				}
				grid, err := composite.Anomaly(grids[0], grids[1], r.settings.Anomaly, nodata)
				return grid, string(r.settings.Anomaly), err
			})
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *Runner) mapped(code string, date time.Time, comp, suite, variable string) archive.Record {
	return archive.Record{
		SensorCode: code,
		Date:       date,
		Level:      archive.LevelL3m,
		Suite:      suite,
		Variable:   variable,
		Resolution: r.settings.Resolution,
		Composite:  comp,
		Ext:        productExt,
	}
}

func (r *Runner) query(code, comp, suite, variable string) archive.Query {
	return archive.Query{
		SensorCode: code,
		Suite:      suite,
		Variable:   variable,
		Resolution: r.settings.Resolution,
		Composite:  comp,
		Ext:        productExt,
	}
}

// reduce reads the grids at paths and composites them.
func (r *Runner) reduce(ctx context.Context, paths []string) (domain.BinnedGrid, string, error) {
	grids, err := readAll(ctx, paths)
	if err != nil {
		return domain.BinnedGrid{}, "", err
	}
	rec, err := composite.Reduce(grids, r.settings.Function)
	if err != nil {
		return domain.BinnedGrid{}, "", err
	}
	return rec.BinnedGrid, rec.Function, nil
}

func withoutCombined(codec *archive.Codec, paths []string) []string {
	out := paths[:0:0]
	for _, p := range paths {
		if rec, err := codec.Parse(p, true); err == nil && rec.SensorCode != CombinedSensor {
			out = append(out, p)
		}
	}
	return out
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
