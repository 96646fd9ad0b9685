package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ocean-color-archive/internal/archive"
	"github.com/couchcryptid/ocean-color-archive/internal/batch"
	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/composite"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
	"github.com/couchcryptid/ocean-color-archive/internal/period"
	"github.com/couchcryptid/ocean-color-archive/internal/pipeline"
	"github.com/couchcryptid/ocean-color-archive/internal/raster"
	"github.com/couchcryptid/ocean-color-archive/internal/swath"
)

// --- mocks ---

type mockBinner struct {
	mu     sync.Mutex
	jobs   []swath.Job
	values []float64
}

func (m *mockBinner) Bin(_ context.Context, job swath.Job) (domain.BinnedGrid, error) {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if len(job.Files) == 0 {
		return domain.BinnedGrid{}, fmt.Errorf("bin: %w", domain.ErrMissingInput)
	}
	g := domain.NewBinnedGrid(job.Grid, job.Variable, job.Nodata)
	copy(g.Values, m.values)
	for _, f := range job.Files {
		g.Sources = append(g.Sources, filepath.Base(f))
		g.Tags = append(g.Tags, domain.Tag{Key: "source", Value: filepath.Base(f)})
	}
	return g, nil
}

func (m *mockBinner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type mockNotifier struct {
	mu     sync.Mutex
	events []domain.ProductEvent
	err    error
}

func (m *mockNotifier) Publish(_ context.Context, events []domain.ProductEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

// --- helpers ---

var (
	jan1  = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	jan3  = time.Date(2016, 1, 3, 0, 0, 0, 0, time.UTC)
	jan10 = time.Date(2016, 1, 10, 0, 0, 0, 0, time.UTC)
)

func testSpec() domain.GridSpec {
	return domain.GridSpec{
		Extent:     domain.Extent{South: 0, North: 2, West: 0, East: 2},
		Resolution: 1,
		Projection: "+proj=longlat",
		Rows:       2,
		Cols:       2,
		Transform:  domain.NorthUp(1, 0, 2),
	}
}

type fixture struct {
	root     string
	locator  *archive.Locator
	binner   *mockBinner
	notifier *mockNotifier
	metrics  *observability.Metrics
	runner   *pipeline.Runner
}

func newFixture(t *testing.T, overwrite bool) *fixture {
	t.Helper()
	return newFixtureWith(t, func(s *pipeline.Settings) { s.Overwrite = overwrite })
}

func newFixtureWith(t *testing.T, configure func(*pipeline.Settings)) *fixture {
	t.Helper()
	cat, err := catalog.Load()
	require.NoError(t, err)

	root := t.TempDir()
	loc := archive.NewLocator(root, archive.NewCodec(cat))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	f := &fixture{
		root:     root,
		locator:  loc,
		binner:   &mockBinner{values: []float64{1, 2, 3, 4}},
		notifier: &mockNotifier{},
		metrics:  metrics,
	}
	settings := pipeline.Settings{
		Grid:         testSpec(),
		Resolution:   "2km",
		DayThreshold: 12 * time.Hour,
		MaxQuality:   2,
		Function:     composite.Mean,
		Anomaly:      composite.AnomalyDiff,
	}
	configure(&settings)
	sched := batch.New(2, time.Minute, logger, metrics)
	f.runner = pipeline.New(cat, loc, f.binner, sched, f.notifier, settings, logger, metrics)
	return f
}

// touch creates an empty archive file for rec.
func (f *fixture) touch(t *testing.T, rec archive.Record) string {
	t.Helper()
	p, err := f.locator.PathFor(rec)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	return p
}

// product writes a chlor_a grid for rec and returns its path.
func (f *fixture) product(t *testing.T, rec archive.Record, values ...float64) string {
	t.Helper()
	rec.Level = archive.LevelL3m
	rec.Suite, rec.Variable, rec.Resolution, rec.Ext = "CHL", "chlor_a", "2km", "nc"
	p, err := f.locator.PathFor(rec)
	require.NoError(t, err)
	require.NoError(t, raster.Write(p, domain.BinnedGrid{
		Spec:     testSpec(),
		Variable: "chlor_a",
		Values:   values,
		Nodata:   -1,
	}))
	return p
}

func (f *fixture) run(t *testing.T, items []batch.Item) batch.Report {
	t.Helper()
	report, err := f.runner.Run(context.Background(), items)
	require.NoError(t, err)
	return report
}

func swathRecord(code string, at time.Time) archive.Record {
	return archive.Record{SensorCode: code, Date: at, HasTime: true, Level: archive.LevelL2, Suite: "OC"}
}

// --- tests ---

func TestRunner_NotReadyBeforeFirstBatch(t *testing.T) {
	f := newFixture(t, false)
	assert.Error(t, f.runner.CheckReadiness(context.Background()))
	_, ok := f.runner.LastReport()
	assert.False(t, ok)

	f.run(t, []batch.Item{{ID: "noop", Run: func(context.Context) error { return nil }}})
	assert.NoError(t, f.runner.CheckReadiness(context.Background()))
	report, ok := f.runner.LastReport()
	require.True(t, ok)
	assert.Equal(t, 1, report.Succeeded())
}

func TestBinItems_DayPassesOnly(t *testing.T) {
	f := newFixture(t, false)
	day := f.touch(t, swathRecord("A", jan10.Add(18*time.Hour+30*time.Minute)))
	f.touch(t, swathRecord("A", jan10.Add(6*time.Hour+30*time.Minute)))

	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "A2016010.L3m_DAY_CHL_chlor_a_2km.nc", items[0].ID)

	report := f.run(t, items)
	assert.Equal(t, 1, report.Succeeded())

	require.Equal(t, 1, f.binner.calls())
	job := f.binner.jobs[0]
	assert.Equal(t, []string{day}, job.Files)
	assert.Equal(t, uint32(0x669d73b), job.Mask.BitMask)
	assert.Empty(t, job.Mask.QualityVariable)
	assert.InDelta(t, -1, job.Nodata, 0)
	assert.Nil(t, job.Formula)

	out := filepath.Join(f.root, "aqua/L3m/DAY/2016/010/A2016010.L3m_DAY_CHL_chlor_a_2km.nc")
	grid, err := raster.Read(out)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, grid.Values)
	assert.Equal(t, []string{filepath.Base(day)}, grid.Sources)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, "A2016010.L3m_DAY_CHL_chlor_a_2km.nc", ev.Filename)
	assert.Equal(t, out, ev.Path)
	assert.Equal(t, "L3m", ev.Level)
	assert.Equal(t, "A", ev.Sensor)
	assert.Equal(t, jan10, ev.Date)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ProductsWritten.WithLabelValues("L3m")), 0.001)
}

func TestBinItems_NightUsesNightSuiteAndPasses(t *testing.T) {
	f := newFixture(t, false)
	f.touch(t, archive.Record{SensorCode: "T", Date: jan10.Add(17 * time.Hour), HasTime: true, Level: archive.LevelL2, Suite: "SST"})
	night := f.touch(t, archive.Record{SensorCode: "T", Date: jan10.Add(4 * time.Hour), HasTime: true, Level: archive.LevelL2, Suite: "SST"})

	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"T"}, []string{"sst"}, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "T2016010.L3m_DAY_NSST_sst_2km.nc", items[0].ID)

	f.run(t, items)
	require.Equal(t, 1, f.binner.calls())
	job := f.binner.jobs[0]
	assert.Equal(t, []string{night}, job.Files)
	assert.Equal(t, "qual_sst", job.Mask.QualityVariable)
	assert.InDelta(t, 2, job.Mask.MaxQuality, 0)
}

func TestBinItems_DerivedVariableGetsFormula(t *testing.T) {
	f := newFixture(t, false)
	f.touch(t, archive.Record{SensorCode: "V", Date: jan10.Add(19 * time.Hour), HasTime: true, Level: archive.LevelL2, Suite: "FAI"})

	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"V"}, []string{"afai"}, false)
	require.NoError(t, err)
	f.run(t, items)

	require.Equal(t, 1, f.binner.calls())
	require.NotNil(t, f.binner.jobs[0].Formula)
	assert.Equal(t, []string{"rhos_671", "rhos_745", "rhos_862"}, f.binner.jobs[0].Formula.Bands)
}

func TestBinItems_ExistingProductSkipped(t *testing.T) {
	f := newFixture(t, false)
	f.touch(t, swathRecord("A", jan10.Add(18*time.Hour)))
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"chlor_a"}, false)
	require.NoError(t, err)

	f.run(t, items)
	f.run(t, items)
	assert.Equal(t, 1, f.binner.calls())
	assert.Len(t, f.notifier.events, 1)
}

func TestBinItems_OverwriteRecomputes(t *testing.T) {
	f := newFixture(t, true)
	f.touch(t, swathRecord("A", jan10.Add(18*time.Hour)))
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"chlor_a"}, false)
	require.NoError(t, err)

	f.run(t, items)
	f.run(t, items)
	assert.Equal(t, 2, f.binner.calls())
	assert.Len(t, f.notifier.events, 2)
}

func TestBinItems_NoSwathsIsNotAFailure(t *testing.T) {
	f := newFixture(t, false)
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A", "T"}, []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 2)

	report := f.run(t, items)
	assert.Equal(t, 2, report.Succeeded())
	assert.Empty(t, f.notifier.events)
	_, err = os.Stat(filepath.Join(f.root, "aqua"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBinItems_AllSensors(t *testing.T) {
	f := newFixture(t, false)
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"all"}, []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 8)
	assert.Equal(t, "A2016010.L3m_DAY_CHL_chlor_a_2km.nc", items[0].ID)
	assert.Equal(t, "V2016010.L3m_DAY_CHL_chlor_a_2km.nc", items[7].ID)
}

func TestBinItems_MaskOverride(t *testing.T) {
	f := newFixtureWith(t, func(s *pipeline.Settings) { s.BitMask = 0x2 })
	f.touch(t, swathRecord("A", jan10.Add(18*time.Hour)))
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"chlor_a"}, false)
	require.NoError(t, err)
	f.run(t, items)

	require.Equal(t, 1, f.binner.calls())
	assert.Equal(t, uint32(0x2), f.binner.jobs[0].Mask.BitMask)
}

func TestBinItems_UnknownInputs(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.runner.BinItems([]time.Time{jan10}, []string{"Q"}, []string{"chlor_a"}, false)
	assert.ErrorIs(t, err, domain.ErrUnknownEntry)

	_, err = f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"not_a_variable"}, false)
	assert.ErrorIs(t, err, domain.ErrUnknownEntry)
}

func TestDailyCompositeItems_CombinesSensors(t *testing.T) {
	f := newFixture(t, false)
	a := f.product(t, archive.Record{SensorCode: "A", Date: jan10, Composite: "DAY"}, 1, -1, 3, -1)
	tm := f.product(t, archive.Record{SensorCode: "T", Date: jan10, Composite: "DAY"}, 3, 5, -1, -1)

	items, err := f.runner.DailyCompositeItems([]time.Time{jan10}, []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "X2016010.L3m_DAY_CHL_chlor_a_2km.nc", items[0].ID)
	f.run(t, items)

	out, err := raster.Read(filepath.Join(f.root, "combined/L3m/DAY/2016/010/X2016010.L3m_DAY_CHL_chlor_a_2km.nc"))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5, 3, -1}, out.Values)
	assert.Equal(t, []string{filepath.Base(a), filepath.Base(tm)}, out.Sources)
	assert.Contains(t, out.Tags, domain.Tag{Key: "function", Value: "mean"})

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "mean", f.notifier.events[0].Function)
	assert.Equal(t, "X", f.notifier.events[0].Sensor)
}

func TestTimeCompositeItems_DatedByFirstMember(t *testing.T) {
	f := newFixture(t, false)
	f.product(t, archive.Record{SensorCode: "X", Date: jan1, Composite: "DAY"}, 1, 1, -1, 4)
	f.product(t, archive.Record{SensorCode: "X", Date: jan3, Composite: "DAY"}, 3, -1, -1, 8)

	items, err := f.runner.TimeCompositeItems(jan1, jan10, period.Days(8), []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "X2016001.L3m_8DAY_CHL_chlor_a_2km.nc", items[0].ID)
	assert.Equal(t, "X2016009.L3m_8DAY_CHL_chlor_a_2km.nc", items[1].ID)

	report := f.run(t, items)
	assert.Equal(t, 2, report.Succeeded())

	out, err := raster.Read(filepath.Join(f.root, "combined/L3m/8DAY/2016/001/X2016001.L3m_8DAY_CHL_chlor_a_2km.nc"))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, -1, 6}, out.Values)
	// The second period has no daily products.
	require.Len(t, f.notifier.events, 1)
}

func TestPlanUpdates(t *testing.T) {
	f := newFixture(t, false)
	names := []string{
		"A2016010.L3m_DAY_CHL_chlor_a_2km.nc",
		"T2016012.L3m_DAY_CHL_chlor_a_2km.nc",
		"A2016020.L3m_DAY_CHL_chlor_a_2km.nc",
		"not-a-product.txt",
	}
	periods := f.runner.PlanUpdates(names, []period.Delta{period.Days(8), period.Monthly})
	require.Len(t, periods, 3)

	assert.Equal(t, period.Monthly, periods[0].Delta)
	assert.Equal(t, jan1, periods[0].Start())
	assert.Len(t, periods[0].Dates, 31)

	assert.Equal(t, period.Days(8), periods[1].Delta)
	assert.Equal(t, time.Date(2016, 1, 9, 0, 0, 0, 0, time.UTC), periods[1].Start())
	assert.Equal(t, time.Date(2016, 1, 17, 0, 0, 0, 0, time.UTC), periods[2].Start())

	items, err := f.runner.CompositeItems(periods, []string{"chlor_a"}, false)
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{
		"X2016001.L3m_MON_CHL_chlor_a_2km.nc",
		"X2016009.L3m_8DAY_CHL_chlor_a_2km.nc",
		"X2016017.L3m_8DAY_CHL_chlor_a_2km.nc",
	}, ids)
}

func TestClimatologyItems(t *testing.T) {
	f := newFixture(t, false)
	f.product(t, archive.Record{SensorCode: "X", Date: time.Date(2015, 1, 9, 0, 0, 0, 0, time.UTC), Composite: "8DAY"}, 1, 2, -1, -1)
	f.product(t, archive.Record{SensorCode: "X", Date: time.Date(2016, 1, 9, 0, 0, 0, 0, time.UTC), Composite: "8DAY"}, 3, -1, 5, -1)

	items, err := f.runner.ClimatologyItems(2015, 2016, period.Days(8), []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 46)
	assert.Equal(t, "CLIM.009.L3m_8DAY_CHL_chlor_a_2km_2015_2016.nc", items[1].ID)

	report := f.run(t, items)
	assert.Equal(t, 46, report.Succeeded())

	out, err := raster.Read(filepath.Join(f.root, "combined/L3m/8DAY_clim/009/CLIM.009.L3m_8DAY_CHL_chlor_a_2km_2015_2016.nc"))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 5, -1}, out.Values)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "CLIM", f.notifier.events[0].Level)

	_, err = f.runner.ClimatologyItems(2016, 2015, period.Days(8), []string{"chlor_a"}, false)
	assert.Error(t, err)
}

// climatology writes the 8-day day-of-year 1 chlor_a climatology.
func (f *fixture) climatology(t *testing.T, values ...float64) {
	t.Helper()
	clim, err := f.locator.PathFor(archive.Record{
		DOY: 1, Level: archive.LevelL3m, Composite: "8DAY", Suite: "CHL", Variable: "chlor_a",
		Resolution: "2km", Ext: "nc", Climatology: true, BeginYear: 2003, EndYear: 2015,
	})
	require.NoError(t, err)
	require.NoError(t, raster.Write(clim, domain.BinnedGrid{
		Spec: testSpec(), Variable: "chlor_a", Values: values, Nodata: -1,
	}))
}

func TestAnomalyItems(t *testing.T) {
	const anomNodata = -32767
	f := newFixture(t, false)
	f.product(t, archive.Record{SensorCode: "X", Date: jan1, Composite: "8DAY"}, 3, 0.5, -1, 2)
	f.climatology(t, 1, 1.5, 1, -1)

	items, err := f.runner.AnomalyItems(jan1, jan1, period.Days(8), []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ANOM.2016001.L3m_8DAY_CHL_chlor_a_2km.nc", items[0].ID)
	f.run(t, items)

	out, err := raster.Read(filepath.Join(f.root, "combined/L3m/8DAY_anom/2016/001/ANOM.2016001.L3m_8DAY_CHL_chlor_a_2km.nc"))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, -1, anomNodata, anomNodata}, out.Values)
	assert.InDelta(t, anomNodata, out.Nodata, 0)
	assert.True(t, out.Valid(1), "a departure of -1 survives the round trip")
	assert.Contains(t, out.Tags, domain.Tag{Key: "anomaly", Value: "diff"})
}

func TestAnomalyItems_MisalignedBeginUsesCalendarPeriods(t *testing.T) {
	f := newFixture(t, false)
	f.product(t, archive.Record{SensorCode: "X", Date: jan1, Composite: "8DAY"}, 3, 1, -1, 2)
	f.climatology(t, 1, 1.5, 1, -1)

	items, err := f.runner.AnomalyItems(jan3, jan10, period.Days(8), []string{"chlor_a"}, false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "ANOM.2016001.L3m_8DAY_CHL_chlor_a_2km.nc", items[0].ID)
	assert.Equal(t, "ANOM.2016009.L3m_8DAY_CHL_chlor_a_2km.nc", items[1].ID)

	report := f.run(t, items[:1])
	assert.Equal(t, 1, report.Succeeded())
	out, err := raster.Read(filepath.Join(f.root, "combined/L3m/8DAY_anom/2016/001/ANOM.2016001.L3m_8DAY_CHL_chlor_a_2km.nc"))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, -0.5, -32767, -32767}, out.Values)
}

func TestRun_NotifierFailureIsReported(t *testing.T) {
	f := newFixture(t, false)
	f.notifier.err = errors.New("broker unavailable")
	f.touch(t, swathRecord("A", jan10.Add(18*time.Hour)))
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"chlor_a"}, false)
	require.NoError(t, err)

	report, err := f.runner.Run(context.Background(), items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, 1, report.Succeeded())
}

func TestRun_CancelledLeavesRunnerNotReady(t *testing.T) {
	f := newFixture(t, false)
	f.touch(t, swathRecord("A", jan10.Add(18*time.Hour)))
	items, err := f.runner.BinItems([]time.Time{jan10}, []string{"A"}, []string{"chlor_a"}, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.runner.Run(ctx, items)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, 1, report.Counts()[batch.OutcomeSkipped])
	assert.Error(t, f.runner.CheckReadiness(context.Background()))
	assert.Zero(t, f.binner.calls())
}
