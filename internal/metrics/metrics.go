// Package metrics exposes Prometheus collectors for report intake,
// submission processing and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Report outcomes.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeInvalid   = "invalid"
)

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ReportsSubmitted     *prometheus.CounterVec
	SubmissionsProcessed *prometheus.CounterVec
	ProcessDuration      *prometheus.HistogramVec
	RowsIngested         *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ReportsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matos",
			Name:      "reports_submitted_total",
			Help:      "Public tag reports received, by match outcome.",
		}, []string{"outcome"}),
		SubmissionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matos",
			Name:      "submissions_processed_total",
			Help:      "Bulk submissions processed, by datatype and final status.",
		}, []string{"datatype", "status"}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "matos",
			Name:      "submission_process_seconds",
			Help:      "Time spent ingesting a submission datafile.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"datatype"}),
		RowsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matos",
			Name:      "ingested_rows_total",
			Help:      "Rows written by submission processing.",
		}, []string{"datatype"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matos",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "matos",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ReportsSubmitted,
		m.SubmissionsProcessed,
		m.ProcessDuration,
		m.RowsIngested,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// ObserveReport counts one report intake outcome. Nil receivers are no-ops
// so services can run without metrics in tests.
func (m *Metrics) ObserveReport(outcome string) {
	if m == nil {
		return
	}
	m.ReportsSubmitted.WithLabelValues(outcome).Inc()
}

// ObserveSubmission records a finished processing run.
func (m *Metrics) ObserveSubmission(datatype, status string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionsProcessed.WithLabelValues(datatype, status).Inc()
	m.ProcessDuration.WithLabelValues(datatype).Observe(elapsed.Seconds())
	if rows > 0 {
		m.RowsIngested.WithLabelValues(datatype).Add(float64(rows))
	}
}

// Middleware records request counts and latency keyed by the matched
// route pattern, never the raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method

			m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
}
