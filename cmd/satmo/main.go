// Command satmo runs one archive processing job selected by JOB and exits.
// Health, status and metrics are served on HTTP_ADDR while it runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/ocean-color-archive/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ocean-color-archive/internal/adapter/kafka"
	"github.com/couchcryptid/ocean-color-archive/internal/archive"
	"github.com/couchcryptid/ocean-color-archive/internal/batch"
	"github.com/couchcryptid/ocean-color-archive/internal/catalog"
	"github.com/couchcryptid/ocean-color-archive/internal/config"
	"github.com/couchcryptid/ocean-color-archive/internal/domain"
	"github.com/couchcryptid/ocean-color-archive/internal/geo"
	"github.com/couchcryptid/ocean-color-archive/internal/observability"
	"github.com/couchcryptid/ocean-color-archive/internal/period"
	"github.com/couchcryptid/ocean-color-archive/internal/pipeline"
	"github.com/couchcryptid/ocean-color-archive/internal/swath"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	cat, err := catalog.Load()
	if err != nil {
		logger.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	projections := geo.NewCache(cfg.ProjectionCacheSize, metrics)
	builder := geo.NewBuilder(projections)
	grid, err := buildGrid(builder, cfg)
	if err != nil {
		logger.Error("invalid grid", "error", err, "resolution", cfg.Resolution, "grid_source", cfg.GridSource)
		os.Exit(1)
	}
	logger.Info("grid ready", "rows", grid.Rows, "cols", grid.Cols, "resolution", cfg.Resolution, "projection", grid.Projection)

	var bitMask uint32
	if len(cfg.MaskFlags) > 0 {
		bitMask, err = cat.MaskFromFlags(cfg.MaskFlags...)
		if err != nil {
			logger.Error("invalid mask flags", "error", err)
			os.Exit(1)
		}
		logger.Info("l2 flag mask overridden", "mask", fmt.Sprintf("%#x", bitMask), "flags", cat.FlagNames(bitMask))
	}

	// Notifications are feature-flagged via KAFKA_ENABLED.
	var notifier pipeline.Notifier
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, metrics)
		notifier = publisher
		logger.Info("product notifications enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("product notifications disabled")
	}

	locator := archive.NewLocator(cfg.DataRoot, archive.NewCodec(cat))
	binner := swath.NewBinner(swath.NetCDFReader{}, projections, logger, metrics)
	scheduler := batch.New(cfg.Workers, cfg.ItemTimeout, logger, metrics)
	runner := pipeline.New(cat, locator, binner, scheduler, notifier, pipeline.Settings{
		Grid:         grid,
		Resolution:   cfg.Resolution,
		DayThreshold: cfg.DayThreshold,
		MaxQuality:   cfg.MaxQuality,
		BitMask:      bitMask,
		Function:     cfg.CompositeFunction,
		Anomaly:      cfg.AnomalyMethod,
		Overwrite:    cfg.Overwrite,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	exitCode := 0
	failed, err := runJob(ctx, runner, cfg, logger)
	switch {
	case err != nil:
		logger.Error("job stopped", "job", cfg.Job, "error", err)
		exitCode = 1
	case failed > 0:
		logger.Warn("job finished with failures", "job", cfg.Job, "failed", failed)
		exitCode = 1
	default:
		logger.Info("job finished", "job", cfg.Job)
	}
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}

// buildGrid returns the output grid: the georeference of GRID_SOURCE when
// set, otherwise EXTENT at RESOLUTION.
func buildGrid(builder *geo.Builder, cfg *config.Config) (domain.GridSpec, error) {
	res, err := builder.Resolution(cfg.Resolution, cfg.Projection)
	if err != nil {
		return domain.GridSpec{}, err
	}
	if cfg.GridSource == "" {
		return builder.FromExtent(cfg.Extent, res, cfg.Projection)
	}

	meta, err := geo.ReadSourceMeta(cfg.GridSource, cfg.Projection)
	if err != nil {
		return domain.GridSpec{}, err
	}
	grid, err := builder.FromSource(meta)
	if err != nil {
		return domain.GridSpec{}, err
	}
	if math.Abs(grid.Resolution-res) > 1e-6*res {
		return domain.GridSpec{}, fmt.Errorf("%s has resolution %s, want %s: %w", cfg.GridSource, meta.Resolution, cfg.Resolution, domain.ErrInvalidGrid)
	}
	return grid, nil
}

// runJob builds and runs the stages of cfg.Job in order and returns the
// number of failed items. A stage that is interrupted stops the job.
func runJob(ctx context.Context, runner *pipeline.Runner, cfg *config.Config, logger *slog.Logger) (int, error) {
	dates := cfg.Dates()
	failed := 0
	stage := func(name string, items []batch.Item, err error) error {
		if err != nil {
			return err
		}
		logger.Info("stage started", "stage", name, "items", len(items))
		report, err := runner.Run(ctx, items)
		failed += len(report.Failed())
		counts := report.Counts()
		logger.Info("stage finished", "stage", name,
			"ok", counts[batch.OutcomeOK],
			"failed", counts[batch.OutcomeFailed],
			"timeout", counts[batch.OutcomeTimeout],
			"skipped", counts[batch.OutcomeSkipped],
		)
		return err
	}

	var err error
	switch cfg.Job {
	case config.JobBin:
		items, ierr := runner.BinItems(dates, cfg.Sensors, cfg.Variables, cfg.Night)
		err = stage("bin", items, ierr)
	case config.JobDailyComposite:
		items, ierr := runner.DailyCompositeItems(dates, cfg.Variables, cfg.Night)
		err = stage("daily-composite", items, ierr)
	case config.JobTimeComposite:
		items, ierr := runner.TimeCompositeItems(cfg.Begin, cfg.End, cfg.CompositeDelta, cfg.Variables, cfg.Night)
		err = stage("time-composite", items, ierr)
	case config.JobClimatology:
		items, ierr := runner.ClimatologyItems(cfg.ClimBeginYear, cfg.ClimEndYear, cfg.CompositeDelta, cfg.Variables, cfg.Night)
		err = stage("climatology", items, ierr)
	case config.JobAnomaly:
		items, ierr := runner.AnomalyItems(cfg.Begin, cfg.End, cfg.CompositeDelta, cfg.Variables, cfg.Night)
		err = stage("anomaly", items, ierr)
	case config.JobNRT:
		err = runNRT(runner, cfg, dates, stage)
	}
	return failed, err
}

// runNRT bins new swaths, merges sensors, then rebuilds every composite
// period touched by the new daily products.
func runNRT(runner *pipeline.Runner, cfg *config.Config, dates []time.Time, stage func(string, []batch.Item, error) error) error {
	items, err := runner.BinItems(dates, cfg.Sensors, cfg.Variables, cfg.Night)
	if err := stage("bin", items, err); err != nil {
		return err
	}
	daily, err := runner.DailyCompositeItems(dates, cfg.Variables, cfg.Night)
	if err := stage("daily-composite", daily, err); err != nil {
		return err
	}
	names := make([]string, len(daily))
	for i, it := range daily {
		names[i] = it.ID
	}
	periods := runner.PlanUpdates(names, []period.Delta{cfg.CompositeDelta})
	composites, err := runner.CompositeItems(periods, cfg.Variables, cfg.Night)
	return stage("time-composite", composites, err)
}
