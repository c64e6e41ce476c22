// Package telemetry provides application-level observability for the logging backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<JLO_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Log ingestion counters (accepted, dropped, written) and queue depth gauge
//   - Parsing rule engine match and error counters
//   - Retention run duration histogram and deleted-row counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/logs/:id) rather than
// the raw request URL to prevent unbounded label cardinality from user-supplied
// path segments.  Ingestion metrics are labelled by app name, which is bounded by
// the number of registered apps, never by log content.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template, NOT the raw URL, to prevent
// unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Ingestion metrics — recorded by the ingest handlers and the write queue.
//
// LogsAcceptedTotal counts entries accepted into the write queue, by app and level.
// LogsDroppedTotal counts entries rejected because the queue was full; a nonzero
// rate means producers are outpacing SQLite writes and is the primary overload
// signal for this service.
// LogsWrittenTotal counts entries durably committed by the writer goroutine.
// IngestQueueDepth tracks the current number of buffered, unwritten entries.
//
// Example PromQL queries:
//   - Ingest rate by app:   sum by (app) (rate(logs_accepted_total[5m]))
//   - Drop alert:           increase(logs_dropped_total[5m]) > 0
//   - Write lag (entries):  ingest_queue_depth
var (
	LogsAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logs_accepted_total",
			Help: "Total number of log entries accepted into the write queue, by app and level.",
		},
		[]string{"app", "level"},
	)

	LogsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logs_dropped_total",
			Help: "Total number of log entries dropped because the write queue was full, by app.",
		},
		[]string{"app"},
	)

	LogsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logs_written_total",
			Help: "Total number of log entries committed to the database.",
		},
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Current number of log entries buffered in the write queue.",
		},
	)
)

// Parsing rule engine metrics.
//
// ParsingRuleMatchesTotal counts log entries matched by an enabled parsing rule,
// by rule name.  ParsingRuleErrorsTotal counts rule evaluations that failed
// (invalid regex, malformed JSON path); a matching entry still ingests when its
// rule errors, so this counter is the only signal that a rule is broken.
var (
	ParsingRuleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsing_rule_matches_total",
			Help: "Total number of log entries matched by a parsing rule, by rule name.",
		},
		[]string{"rule"},
	)

	ParsingRuleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parsing_rule_errors_total",
			Help: "Total number of parsing rule evaluation failures, by rule name.",
		},
		[]string{"rule"},
	)
)

// Retention metrics — recorded by the retention engine.
//
// RetentionRunDuration observes one complete cleanup run (all apps, all tiers).
// RetentionDeletedTotal counts rows removed, by app and priority tier.
// RetentionRunsTotal counts completed runs by terminal status (success, failed).
//
// Example PromQL queries:
//   - p95 run duration:      histogram_quantile(0.95, rate(retention_run_duration_seconds_bucket[24h]))
//   - Deletions by tier:     sum by (tier) (increase(retention_deleted_total[24h]))
//   - Failed run alert:      increase(retention_runs_total{status="failed"}[24h]) > 0
var (
	RetentionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_run_duration_seconds",
			Help:    "Duration of a single retention cleanup run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_deleted_total",
			Help: "Total number of log rows deleted by retention cleanup, by app and tier.",
		},
		[]string{"app", "tier"},
	)

	RetentionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_runs_total",
			Help: "Total number of completed retention runs, by terminal status.",
		},
		[]string{"status"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
