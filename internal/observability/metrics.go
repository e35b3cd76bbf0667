// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingest metrics
	MeasurementsInserted *prometheus.CounterVec
	MeasurementsDeleted  *prometheus.CounterVec
	IngestErrors         *prometheus.CounterVec

	// Query metrics
	StatisticsQueries  *prometheus.CounterVec
	LightcurveQueries  *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	QueryErrors        *prometheus.CounterVec
	CollatedBandFanout prometheus.Histogram

	// Rollup metrics
	RollupRefreshes      *prometheus.CounterVec
	RollupRefreshSeconds *prometheus.HistogramVec
	RollupDrops          *prometheus.CounterVec

	// Feed metrics
	FeedClients       prometheus.Gauge
	FeedBroadcasts    prometheus.Counter
	FeedDroppedFrames prometheus.Counter

	// Health metrics
	LastSuccessfulRefresh prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lightcurvedb"
	}

	return &Metrics{
		// Ingest metrics
		MeasurementsInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "measurements_inserted_total",
			Help:      "Total number of flux measurements inserted by backend",
		}, []string{"backend"}),
		MeasurementsDeleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "measurements_deleted_total",
			Help:      "Total number of flux measurements deleted by backend",
		}, []string{"backend"}),
		IngestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "errors_total",
			Help:      "Total number of ingest errors by backend and kind",
		}, []string{"backend", "kind"}),

		// Query metrics
		StatisticsQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "statistics_total",
			Help:      "Total number of statistics queries by answering tier",
		}, []string{"tier"}),
		LightcurveQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "lightcurves_total",
			Help:      "Total number of binned lightcurve queries by answering tier",
		}, []string{"tier"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "tier"}),
		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Total number of query errors by kind",
		}, []string{"kind"}),
		CollatedBandFanout: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "collated_band_fanout",
			Help:      "Number of bands fanned out per collated query",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),

		// Rollup metrics
		RollupRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "refreshes_total",
			Help:      "Total number of rollup refresh runs by tier and status",
		}, []string{"tier", "status"}),
		RollupRefreshSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "refresh_duration_seconds",
			Help:      "Rollup refresh duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"tier"}),
		RollupDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "retention_runs_total",
			Help:      "Total number of retention runs by tier and status",
		}, []string{"tier", "status"}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Current number of connected feed clients",
		}),
		FeedBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "broadcasts_total",
			Help:      "Total number of frames broadcast to feed clients",
		}),
		FeedDroppedFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_frames_total",
			Help:      "Total number of frames dropped on slow feed clients",
		}),

		// Health metrics
		LastSuccessfulRefresh: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last successful rollup refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordInsert records measurements inserted into a backend.
func RecordInsert(backend string, count int) {
	DefaultMetrics.MeasurementsInserted.WithLabelValues(backend).Add(float64(count))
}

// RecordDelete increments the deleted measurements counter.
func RecordDelete(backend string) {
	DefaultMetrics.MeasurementsDeleted.WithLabelValues(backend).Inc()
}

// RecordIngestError records an ingest error.
func RecordIngestError(backend, kind string) {
	DefaultMetrics.IngestErrors.WithLabelValues(backend, kind).Inc()
}

// RecordStatisticsQuery records one statistics query.
func RecordStatisticsQuery(tier string, seconds float64, err error) {
	DefaultMetrics.StatisticsQueries.WithLabelValues(tier).Inc()
	DefaultMetrics.QueryDuration.WithLabelValues("statistics", tier).Observe(seconds)
	if err != nil {
		DefaultMetrics.QueryErrors.WithLabelValues("statistics").Inc()
	}
}

// RecordLightcurveQuery records one binned lightcurve query.
func RecordLightcurveQuery(tier string, seconds float64, err error) {
	DefaultMetrics.LightcurveQueries.WithLabelValues(tier).Inc()
	DefaultMetrics.QueryDuration.WithLabelValues("lightcurve", tier).Observe(seconds)
	if err != nil {
		DefaultMetrics.QueryErrors.WithLabelValues("lightcurve").Inc()
	}
}

// RecordCollatedFanout records how many bands a collated query spanned.
func RecordCollatedFanout(bands int) {
	DefaultMetrics.CollatedBandFanout.Observe(float64(bands))
}

// RecordRollupRefresh records a rollup refresh run.
func RecordRollupRefresh(tier string, success bool, seconds float64) {
	status := "ok"
	if !success {
		status = "error"
	}
	DefaultMetrics.RollupRefreshes.WithLabelValues(tier, status).Inc()
	DefaultMetrics.RollupRefreshSeconds.WithLabelValues(tier).Observe(seconds)
	if success {
		DefaultMetrics.LastSuccessfulRefresh.SetToCurrentTime()
	}
}

// RecordRollupDrop records a retention run.
func RecordRollupDrop(tier string, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	DefaultMetrics.RollupDrops.WithLabelValues(tier, status).Inc()
}

// SetFeedClients updates the connected feed clients gauge.
func SetFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedBroadcast increments the broadcast counter.
func RecordFeedBroadcast() {
	DefaultMetrics.FeedBroadcasts.Inc()
}

// RecordFeedDroppedFrame increments the dropped frames counter.
func RecordFeedDroppedFrame() {
	DefaultMetrics.FeedDroppedFrames.Inc()
}
