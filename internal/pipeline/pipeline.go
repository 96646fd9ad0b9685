// Package pipeline turns archive queries into batches of product work items
// and runs them on the scheduler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/ocean-color-archive/internal/archive"
	"github.com/couchcryptid/ocean-color-archive/internal/batch"
	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/composite"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
	"github.com/couchcryptid/ocean-color-archive/internal/raster"
	"github.com/couchcryptid/ocean-color-archive/internal/swath"
)

// publishTimeout bounds the notification flush after a batch, which also
// runs when the batch was interrupted.
const publishTimeout = 30 * time.Second

// Binner bins swath files onto a grid.
type Binner interface {
	Bin(ctx context.Context, job swath.Job) (domain.BinnedGrid, error)
}

// Scheduler runs work items.
type Scheduler interface {
	Run(ctx context.Context, items []batch.Item) (batch.Report, error)
}

// Notifier announces written products.
type Notifier interface {
	Publish(ctx context.Context, events []domain.ProductEvent) error
}

// Settings are the processing parameters shared by every item.
type Settings struct {
	Grid         domain.GridSpec
	Resolution   string // filename token of Grid, e.g. "2km"
	DayThreshold time.Duration
	MaxQuality   float64
	BitMask      uint32 // replaces every suite's l2_flags mask when non-zero
	Function     composite.Function
	Anomaly      composite.AnomalyMethod
	Overwrite    bool
}

// Runner builds and runs product work items.
type Runner struct {
	catalog   *catalog.Catalog
	locator   *archive.Locator
	codec     *archive.Codec
	binner    Binner
	scheduler Scheduler
	notifier  Notifier
	settings  Settings
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	last      atomic.Pointer[batch.Report]

	mu      sync.Mutex
	pending []domain.ProductEvent
}

// New creates a Runner. A nil notifier disables product notifications.
func New(cat *catalog.Catalog, locator *archive.Locator, binner Binner, scheduler Scheduler, notifier Notifier, settings Settings, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		catalog:   cat,
		locator:   locator,
		codec:     locator.Codec(),
		binner:    binner,
		scheduler: scheduler,
		notifier:  notifier,
		settings:  settings,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once the runner has completed a batch.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("runner has not completed a batch yet")
	}
	return nil
}

// LastReport returns the report of the most recent batch.
func (r *Runner) LastReport() (batch.Report, bool) {
	report := r.last.Load()
	if report == nil {
		return batch.Report{}, false
	}
	return *report, true
}

// Run executes items and then publishes a notification for every product
// written, including those written before an interruption.
func (r *Runner) Run(ctx context.Context, items []batch.Item) (batch.Report, error) {
	report, err := r.scheduler.Run(ctx, items)
	r.last.Store(&report)
	if err == nil {
		r.ready.Store(true)
	}

	if perr := r.flush(ctx); perr != nil {
		r.logger.Error("publish product notifications failed", "error", perr)
		if err == nil {
			err = perr
		}
	}

	for _, res := range report.Failed() {
		r.logger.Warn("item did not complete", "item", res.ID, "outcome", res.Outcome, "error", res.Err)
	}
	return report, err
}

func (r *Runner) flush(ctx context.Context) error {
	r.mu.Lock()
	events := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(events) == 0 || r.notifier == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.notifier.Publish(pubCtx, events); err != nil {
		return fmt.Errorf("publish %d events: %w", len(events), err)
	}
	return nil
}

// producer computes the grid of one output product.
type producer func(ctx context.Context) (domain.BinnedGrid, string, error)

// item wraps the check-exists, compute, write and announce steps shared by
// every product kind.
func (r *Runner) item(out archive.Record, produce producer) (batch.Item, error) {
	name, err := r.codec.Build(out)
	if err != nil {
		return batch.Item{}, err
	}
	out.Filename = name
	path, err := r.locator.PathFor(out)
	if err != nil {
		return batch.Item{}, err
	}

	run := func(ctx context.Context) error {
		if !r.settings.Overwrite {
			exists, err := r.locator.Exists(out)
			if err != nil {
				return err
			}
			if exists {
				r.logger.Debug("product exists, skipping", "product", name)
				return nil
			}
		}

		grid, function, err := produce(ctx)
		if errors.Is(err, domain.ErrMissingInput) {
			r.logger.Info("no input for product, skipping", "product", name)
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		grid.ID = name
		if err := raster.Write(path, grid); err != nil {
			return err
		}
		level := out.Kind().String()
		r.metrics.ProductsWritten.WithLabelValues(level).Inc()
		r.logger.Info("product written", "product", name, "inputs", len(grid.Sources))

		r.enqueue(domain.ProductEvent{
			Filename:   name,
			Path:       path,
			Level:      level,
			Sensor:     out.SensorCode,
			Suite:      out.Suite,
			Variable:   out.Variable,
			Composite:  out.Composite,
			Date:       out.Date,
			Function:   function,
			Inputs:     grid.Sources,
			ProducedAt: domain.Now(),
		})
		return nil
	}
	return batch.Item{ID: name, Run: run}, nil
}

func (r *Runner) enqueue(ev domain.ProductEvent) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()
}

// readAll loads the grids at paths.
func readAll(ctx context.Context, paths []string) ([]domain.BinnedGrid, error) {
	grids := make([]domain.BinnedGrid, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := raster.Read(p)
		if err != nil {
			return nil, err
		}
		grids = append(grids, g)
	}
	return grids, nil
}
