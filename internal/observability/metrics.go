package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ocean_color"

// Metrics holds the Prometheus counters, histograms, and gauges for the archive processor.
type Metrics struct {
	// Scheduler metrics.
	ItemsTotal       *prometheus.CounterVec // labels: outcome={ok,failed,timeout,cancelled,skipped}
	ItemDuration     prometheus.Histogram
	WorkersBusy      prometheus.Gauge
	SchedulerRunning prometheus.Gauge

	// Binning metrics.
	SamplesKept    prometheus.Counter
	SamplesDropped *prometheus.CounterVec // labels: reason={flag,quality,outside,invalid}

	ProductsWritten        *prometheus.CounterVec // labels: level
	ProjectionCache        *prometheus.CounterVec // labels: result={hit,miss}
	NotificationsPublished prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ItemsTotal,
		m.ItemDuration,
		m.WorkersBusy,
		m.SchedulerRunning,
		m.SamplesKept,
		m.SamplesDropped,
		m.ProductsWritten,
		m.ProjectionCache,
		m.NotificationsPublished,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build
// as many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Batch items processed by outcome.",
		}, []string{"outcome"}),
		ItemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Wall time of a single batch item.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Number of workers currently running an item.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while a batch is being processed, 0 otherwise.",
		}),
		SamplesKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_kept_total",
			Help:      "Swath samples accumulated into a grid.",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Swath samples discarded before binning, by reason.",
		}, []string{"reason"}),
		ProductsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_written_total",
			Help:      "Products written to the archive by level.",
		}, []string{"level"}),
		ProjectionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_cache_total",
			Help:      "Projection cache lookups by result.",
		}, []string{"result"}),
		NotificationsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Product notifications written to Kafka.",
		}),
	}
}
