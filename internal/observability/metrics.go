package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aqi_updater"

// Metrics holds the Prometheus counters, histograms, and gauges for the updater.
type Metrics struct {
	FetchAttempts  *prometheus.CounterVec   // labels: outcome={success,error}
	UpdateAttempts *prometheus.CounterVec   // labels: outcome={success,error}
	StepDuration   *prometheus.HistogramVec // labels: step={download,extract,convert,fill,sample,export}

	// Data quality.
	NodataCells      prometheus.Gauge
	FilledBelowFloor prometheus.Gauge
	SampledPoints    prometheus.Gauge
	ValidEdgeRatio   prometheus.Gauge

	Cleanup       *prometheus.CounterVec // labels: dir={cache,updates}, outcome={removed,not_found,denied}
	Notifications *prometheus.CounterVec // labels: outcome={success,error}

	LatestRasterTimestamp prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Raster fetch attempts by outcome.",
		}, []string{"outcome"}),
		UpdateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_attempts_total",
			Help:      "Edge update attempts by outcome.",
		}, []string{"outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"}),
		NodataCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodata_cells",
			Help:      "Cells masked as nodata in the latest fetched raster.",
		}),
		FilledBelowFloor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filled_below_floor",
			Help:      "Cells below the valid AQI floor after nodata fill.",
		}),
		SampledPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampled_points",
			Help:      "Deduplicated sampling points in the latest update.",
		}),
		ValidEdgeRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valid_edge_ratio",
			Help:      "Share of sampled values that passed validation, in percent.",
		}),
		Cleanup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_total",
			Help:      "File removals by directory and outcome.",
		}, []string{"dir", "outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Update notifications by outcome.",
		}, []string{"outcome"}),
		LatestRasterTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_raster_timestamp_seconds",
			Help:      "Unix time of the hour covered by the latest raster.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FetchAttempts,
		m.UpdateAttempts,
		m.StepDuration,
		m.NodataCells,
		m.FilledBelowFloor,
		m.SampledPoints,
		m.ValidEdgeRatio,
		m.Cleanup,
		m.Notifications,
		m.LatestRasterTimestamp,
	}
}

// NewMetrics creates and registers all updater metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
