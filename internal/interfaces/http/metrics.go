package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds every Prometheus metric the evaluator exports.
type MetricsRegistry struct {
	JobDuration *prometheus.HistogramVec
	JobRuns     *prometheus.CounterVec
	JobErrors   *prometheus.CounterVec

	VenueRequests       *prometheus.CounterVec
	VenueRequestSeconds *prometheus.HistogramVec

	MirrorDecisions *prometheus.CounterVec
	SettledTrades   prometheus.Counter
	RealizedPnL     prometheus.Counter

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	TrackedWallets prometheus.Gauge
	OpenPositions  prometheus.Gauge
}

// NewMetricsRegistry builds and registers the evaluator metric set.
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copyrun_job_duration_seconds",
				Help:    "Duration of each scheduled job run in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"job"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copyrun_job_runs_total",
				Help: "Total scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
		JobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copyrun_job_errors_total",
				Help: "Total scheduled job failures by job",
			},
			[]string{"job"},
		),
		VenueRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copyrun_venue_requests_total",
				Help: "Total venue API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		VenueRequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copyrun_venue_request_seconds",
				Help:    "Venue API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),
		MirrorDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copyrun_mirror_decisions_total",
				Help: "Total mirror decisions by outcome",
			},
			[]string{"outcome"},
		),
		SettledTrades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copyrun_settled_trades_total",
				Help: "Total paper trades settled",
			},
		),
		RealizedPnL: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copyrun_realized_pnl_abs_usd_total",
				Help: "Sum of absolute realized paper PnL in USD",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copyrun_cache_hits_total",
				Help: "Total cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copyrun_cache_misses_total",
				Help: "Total cache misses by cache type",
			},
			[]string{"cache_type"},
		),
		TrackedWallets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copyrun_tracked_wallets",
				Help: "Number of wallets currently on the watchlist",
			},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copyrun_open_positions",
				Help: "Number of currently open paper positions",
			},
		),
	}

	prometheus.MustRegister(
		registry.JobDuration,
		registry.JobRuns,
		registry.JobErrors,
		registry.VenueRequests,
		registry.VenueRequestSeconds,
		registry.MirrorDecisions,
		registry.SettledTrades,
		registry.RealizedPnL,
		registry.CacheHits,
		registry.CacheMisses,
		registry.TrackedWallets,
		registry.OpenPositions,
	)

	return registry
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// Metrics returns the process-wide registry. Metric names are global in
// the default Prometheus registry, so the instance is a singleton.
func Metrics() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry()
	})
	return defaultRegistry
}

// MetricsHandler serves the Prometheus exposition endpoint.
func MetricsHandler() http.Handler {
	Metrics()
	return promhttp.Handler()
}

// RecordVenueRequest observes one venue API call.
func RecordVenueRequest(endpoint string, duration time.Duration, err error) {
	m := Metrics()
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.VenueRequests.WithLabelValues(endpoint, status).Inc()
	m.VenueRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordMirrorDecision counts one decision outcome (COPIED or a skip code).
func RecordMirrorDecision(outcome string) {
	Metrics().MirrorDecisions.WithLabelValues(outcome).Inc()
}

// RecordSettlement counts settled trades and accumulates absolute PnL.
func RecordSettlement(trades int, absPnLUSD float64) {
	m := Metrics()
	m.SettledTrades.Add(float64(trades))
	m.RealizedPnL.Add(absPnLUSD)
}

// JobTimer times one scheduled job run.
type JobTimer struct {
	job   string
	start time.Time
}

// StartJobTimer begins timing a scheduled job.
func StartJobTimer(job string) *JobTimer {
	return &JobTimer{job: job, start: time.Now()}
}

// Stop records the run with its outcome.
func (t *JobTimer) Stop(err error) {
	m := Metrics()
	duration := time.Since(t.start)
	status := "ok"
	if err != nil {
		status = "error"
		m.JobErrors.WithLabelValues(t.job).Inc()
	}
	m.JobDuration.WithLabelValues(t.job).Observe(duration.Seconds())
	m.JobRuns.WithLabelValues(t.job, status).Inc()

	log.Debug().
		Str("job", t.job).
		Str("status", status).
		Dur("duration", duration).
		Msg("Job run recorded")
}

// RecordCacheHit counts a hit for the cache type.
func RecordCacheHit(cacheType string) {
	Metrics().CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a miss for the cache type.
func RecordCacheMiss(cacheType string) {
	Metrics().CacheMisses.WithLabelValues(cacheType).Inc()
}
