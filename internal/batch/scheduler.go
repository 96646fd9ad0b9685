// Package batch runs independent work items on a bounded worker pool.
//
// Items never share state; each writes its own output. A failing, panicking
// or overdue item is recorded and the pool moves on. Cancellation is the
// exception: an interrupted parent context, or an item failing with
// domain.ErrCancelled, stops dispatch and leaves pending items skipped.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
)

// Item is one unit of work.
type Item struct {
	ID  string
	Run func(ctx context.Context) error
}

// Outcome classifies a finished item.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// Result records what happened to one item.
type Result struct {
	ID       string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Report lists results in item order.
type Report struct {
	Results []Result
}

// Counts tallies results by outcome.
func (r Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Succeeded returns the number of items that completed without error.
func (r Report) Succeeded() int {
	return r.Counts()[OutcomeOK]
}

// Failed returns the results of items that errored or timed out.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed || res.Outcome == OutcomeTimeout {
			out = append(out, res)
		}
	}
	return out
}

// Scheduler is a bounded worker pool with per-item deadlines.
type Scheduler struct {
	workers     int
	itemTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates a Scheduler running at most workers items at once, each
// bounded by itemTimeout. A non-positive itemTimeout disables deadlines.
func New(workers int, itemTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		workers:     workers,
		itemTimeout: itemTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run processes items and returns their report. The error is non-nil only
// when the batch was cancelled, and then wraps domain.ErrCancelled.
func (s *Scheduler) Run(ctx context.Context, items []Item) (Report, error) {
	report := Report{Results: make([]Result, len(items))}
	for i, item := range items {
		report.Results[i] = Result{ID: item.ID, Outcome: OutcomeSkipped}
	}

	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)
	s.logger.Info("batch started", "items", len(items), "workers", s.workers, "item_timeout", s.itemTimeout)

	runCtx, halt := context.WithCancelCause(ctx)
	defer halt(nil)

	// Item errors are recorded, never returned, so one failure cannot
	// cancel its siblings through the group.
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, item := range items {
		if runCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if runCtx.Err() != nil {
				return nil
			}
			res := s.runItem(runCtx, item)
			report.Results[i] = res
			if res.Outcome == OutcomeCancelled {
				halt(fmt.Errorf("item %s: %w", item.ID, domain.ErrCancelled))
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		s.metrics.ItemsTotal.WithLabelValues(string(res.Outcome)).Inc()
	}
	counts := report.Counts()
	s.logger.Info("batch finished",
		"ok", counts[OutcomeOK],
		"failed", counts[OutcomeFailed],
		"timeout", counts[OutcomeTimeout],
		"cancelled", counts[OutcomeCancelled],
		"skipped", counts[OutcomeSkipped],
	)

	if runCtx.Err() == nil {
		return report, nil
	}
	cause := context.Cause(runCtx)
	if ctx.Err() != nil {
		cause = fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
	}
	s.logger.Error("batch cancelled", "error", cause, "skipped", counts[OutcomeSkipped])
	return report, cause
}

// runItem executes one item under its deadline and classifies the result.
// An item that ignores its context past the deadline is abandoned: its
// goroutine keeps running but its worker slot is released.
func (s *Scheduler) runItem(ctx context.Context, item Item) Result {
	s.metrics.WorkersBusy.Inc()
	defer s.metrics.WorkersBusy.Dec()

	itemCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.itemTimeout > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, s.itemTimeout)
	}
	defer cancel()

	start := domain.Clock().Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- item.Run(itemCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-itemCtx.Done():
		err = itemCtx.Err()
	}
	res := Result{ID: item.ID, Duration: domain.Clock().Since(start)}
	s.metrics.ItemDuration.Observe(res.Duration.Seconds())

	switch {
	case err == nil:
		res.Outcome = OutcomeOK
	case errors.Is(err, domain.ErrCancelled) || ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Err = err
	case errors.Is(itemCtx.Err(), context.DeadlineExceeded):
		res.Outcome = OutcomeTimeout
		res.Err = fmt.Errorf("item %s after %s: %w", item.ID, s.itemTimeout, domain.ErrTimeout)
		s.logger.Warn("item timed out", "item", item.ID, "timeout", s.itemTimeout)
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
		s.logger.Warn("item failed", "item", item.ID, "error", err)
	}
	return res
}
