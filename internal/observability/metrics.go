package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the loaders.
type Metrics struct {
	PipelineRunning    prometheus.Gauge
	SnapshotsPublished prometheus.Counter

	// Upstream fetch metrics.
	FetchRequests *prometheus.CounterVec   // labels: resource={global_series,daily_report,boundaries,states}, outcome={success,error,not_found}
	FetchDuration *prometheus.HistogramVec // labels: resource

	// Normalization metrics.
	DayFailures          prometheus.Counter
	UnmappedIdentifiers  prometheus.Counter
	MonotonicRegressions *prometheus.CounterVec   // labels: kind={global,us_states}
	LoadDuration         *prometheus.HistogramVec // labels: kind={global,us_states,boundaries}

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.SnapshotsPublished,
		m.FetchRequests,
		m.FetchDuration,
		m.DayFailures,
		m.UnmappedIdentifiers,
		m.MonotonicRegressions,
		m.LoadDuration,
		m.CacheLookups,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "covid_etl",
			Name:      "pipeline_running",
			Help:      "1 when the refresh loop is active, 0 when shut down.",
		}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "covid_etl",
			Name:      "snapshots_published_total",
			Help:      "Total series snapshots written to the sink topic.",
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_etl",
			Name:      "fetch_requests_total",
			Help:      "Upstream fetches by resource and outcome.",
		}, []string{"resource", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "covid_etl",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch duration in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"resource"}),
		DayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "covid_etl",
			Name:      "day_failures_total",
			Help:      "Daily snapshots that could not be fetched or parsed and were zero-filled.",
		}),
		UnmappedIdentifiers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "covid_etl",
			Name:      "unmapped_identifiers_total",
			Help:      "Daily report rows dropped because their state code did not resolve.",
		}),
		MonotonicRegressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_etl",
			Name:      "monotonic_regressions_total",
			Help:      "Day-over-day decreases observed in cumulative series.",
		}, []string{"kind"}),
		LoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "covid_etl",
			Name:      "load_duration_seconds",
			Help:      "Duration of a complete uncached load.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "covid_etl",
			Name:      "cache_total",
			Help:      "Loader cache lookups by result.",
		}, []string{"result"}),
	}
}
