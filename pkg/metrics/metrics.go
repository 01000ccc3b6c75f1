package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Upstream ACIS Metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamErrorsTotal     *prometheus.CounterVec

	// Resolution Metrics
	StationsResolvedTotal *prometheus.CounterVec
	TokensResolvedTotal   *prometheus.CounterVec
	AccumulationEvents    *prometheus.CounterVec
	QueryDuration         prometheus.Histogram
	QueryStations         prometheus.Histogram

	// Grid Metrics
	GridBuildDuration *prometheus.HistogramVec
	CoverageGapsTotal *prometheus.CounterVec

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Cache Metrics
	CacheHitRatio prometheus.Gauge
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter

	// Scheduler Metrics
	RefreshRunsTotal *prometheus.CounterVec
}

// NewCollector creates a collector registered with the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered with reg
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acis_requests_total",
				Help:      "Total number of ACIS requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		UpstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "acis_request_duration_seconds",
				Help:      "ACIS request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),

		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acis_errors_total",
				Help:      "Total number of failed ACIS calls by type",
			},
			[]string{"error_type"},
		),

		StationsResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stations_resolved_total",
				Help:      "Stations resolved by element and outcome",
			},
			[]string{"element", "outcome"},
		),

		TokensResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_resolved_total",
				Help:      "Daily tokens resolved by kind",
			},
			[]string{"kind"},
		),

		AccumulationEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accumulation_events_total",
				Help:      "Accumulation runs and standalone accumulation tokens",
			},
			[]string{"event"},
		),

		QueryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "region_query_duration_seconds",
				Help:      "Duration of region queries in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		QueryStations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "region_query_stations",
				Help:      "Number of stations returned per region query",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),

		GridBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "grid_build_duration_seconds",
				Help:      "Calendar grid build duration in seconds by kind",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"kind"},
		),

		CoverageGapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coverage_gaps_total",
				Help:      "Days with no reporting station found while building grids",
			},
			[]string{"kind"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		CacheHitRatio: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "query_cache_hit_ratio",
				Help:      "Cache hit ratio for region queries",
			},
		),

		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_cache_hits_total",
				Help:      "Region queries served from cache",
			},
		),

		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_cache_misses_total",
				Help:      "Region queries that missed the cache",
			},
		),

		RefreshRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_runs_total",
				Help:      "Scheduled refresh runs by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordUpstreamRequest records one ACIS call
func (c *Collector) RecordUpstreamRequest(endpoint, status string, d time.Duration) {
	c.UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	c.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordUpstreamError increments the ACIS error counter
func (c *Collector) RecordUpstreamError(errorType string) {
	c.UpstreamErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordStationResolved counts a station resolution outcome
func (c *Collector) RecordStationResolved(element, outcome string) {
	c.StationsResolvedTotal.WithLabelValues(element, outcome).Inc()
}

// RecordTokens adds n resolved tokens of kind
func (c *Collector) RecordTokens(kind string, n int) {
	if n > 0 {
		c.TokensResolvedTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordAccumulationEvent counts one accumulation decision
func (c *Collector) RecordAccumulationEvent(event string) {
	c.AccumulationEvents.WithLabelValues(event).Inc()
}

// RecordCoverageGaps adds the gap count of a built grid
func (c *Collector) RecordCoverageGaps(kind string, gaps int) {
	if gaps > 0 {
		c.CoverageGapsTotal.WithLabelValues(kind).Add(float64(gaps))
	}
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCacheLookup counts a cache hit or miss and updates the ratio gauge
func (c *Collector) RecordCacheLookup(hit bool, hits, misses int64) {
	if hit {
		c.cacheHits.Inc()
	} else {
		c.cacheMisses.Inc()
	}
	if total := hits + misses; total > 0 {
		c.CacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordRefreshRun counts a scheduled refresh outcome
func (c *Collector) RecordRefreshRun(outcome string) {
	c.RefreshRunsTotal.WithLabelValues(outcome).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
