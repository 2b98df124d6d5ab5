// Package metrics exposes Prometheus instrumentation for the tool server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type serverMetrics struct {
	executionTotal     *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionErrors    *prometheus.CounterVec
	executionsInFlight prometheus.Gauge

	rateLimitRejections *prometheus.CounterVec
	rateLimitWaiters    *prometheus.GaugeVec

	activeSessions  prometheus.Gauge
	contextSweeps   prometheus.Counter
	sessionsEvicted prometheus.Counter

	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter

	messagesTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *serverMetrics
)

func getMetrics() *serverMetrics {
	metricsOnce.Do(func() {
		m := &serverMetrics{
			executionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and terminal state.",
				},
				[]string{"tool", "state"},
			),
			executionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			executionErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_errors_total",
					Help: "Total failed tool executions by tool.",
				},
				[]string{"tool"},
			),
			executionsInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tool_executions_in_flight",
					Help: "Current number of running tool executions.",
				},
			),
			rateLimitRejections: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rate_limit_rejections_total",
					Help: "Total rate-limited admissions by tool.",
				},
				[]string{"tool"},
			),
			rateLimitWaiters: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "rate_limit_waiters",
					Help: "Callers parked in a tool's admission queue.",
				},
				[]string{"tool"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "context_sessions_active",
					Help: "Current active context sessions.",
				},
			),
			contextSweeps: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_sweeps_total",
					Help: "Total context store expiry sweeps.",
				},
			),
			sessionsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_sessions_evicted_total",
					Help: "Total context sessions evicted by TTL expiry.",
				},
			),
			eventsPublished: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "events_published_total",
					Help: "Total events published by kind.",
				},
				[]string{"kind"},
			),
			eventsDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "events_dropped_total",
					Help: "Total buffered events dropped on overflow.",
				},
			),
			messagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "messages_total",
					Help: "Total inbound protocol messages by kind and status.",
				},
				[]string{"kind", "status"},
			),
		}

		prometheus.MustRegister(
			m.executionTotal,
			m.executionDuration,
			m.executionErrors,
			m.executionsInFlight,
			m.rateLimitRejections,
			m.rateLimitWaiters,
			m.activeSessions,
			m.contextSweeps,
			m.sessionsEvicted,
			m.eventsPublished,
			m.eventsDropped,
			m.messagesTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordExecution records one terminal tool execution.
func RecordExecution(tool, state string, duration time.Duration) {
	m := getMetrics()
	m.executionTotal.WithLabelValues(tool, state).Inc()
	m.executionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if state != "completed" {
		m.executionErrors.WithLabelValues(tool).Inc()
	}
}

// ExecutionStarted tracks the in-flight gauge.
func ExecutionStarted() {
	getMetrics().executionsInFlight.Inc()
}

// ExecutionFinished tracks the in-flight gauge.
func ExecutionFinished() {
	getMetrics().executionsInFlight.Dec()
}

// RateLimitRejected counts a rejected admission for a tool.
func RateLimitRejected(tool string) {
	getMetrics().rateLimitRejections.WithLabelValues(tool).Inc()
}

// SetRateLimitWaiters tracks a tool's admission queue depth.
func SetRateLimitWaiters(tool string, waiters int) {
	getMetrics().rateLimitWaiters.WithLabelValues(tool).Set(float64(waiters))
}

// SetActiveSessions tracks the live context session count.
func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

// RecordSweep counts one expiry sweep and its evictions.
func RecordSweep(evicted int) {
	m := getMetrics()
	m.contextSweeps.Inc()
	m.sessionsEvicted.Add(float64(evicted))
}

// EventPublished counts one published event.
func EventPublished(kind string) {
	getMetrics().eventsPublished.WithLabelValues(kind).Inc()
}

// EventsDropped counts buffered events lost to overflow.
func EventsDropped(n int) {
	getMetrics().eventsDropped.Add(float64(n))
}

// RecordMessage counts an inbound protocol message and its outcome.
func RecordMessage(kind, status string) {
	getMetrics().messagesTotal.WithLabelValues(kind, status).Inc()
}
