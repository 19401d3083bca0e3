package flow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for workflow execution
// monitoring.
//
// Metrics exposed (all namespaced with "nodeflow_"):
//
//  1. active_runs (gauge): runs currently executing, top-level and ForEach
//     sub-runs alike.
//  2. inflight_nodes (gauge): nodes executing concurrently across all runs.
//  3. node_latency_ms (histogram): Process duration per node type and
//     outcome. Labels: node_type, status (success/error).
//  4. runs_total (counter): terminal run outcomes. Labels: status
//     (completed/error/cancelled).
//  5. node_failures_total (counter): node failures by type and error code.
//  6. foreach_iterations_total (counter): ForEach iteration outcomes.
//     Labels: status (success/error).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	exec, _ := flow.NewExecutor(flow.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: gauges and counters are atomic; the enabled flag is guarded
// by a mutex.
type Metrics struct {
	activeRuns    prometheus.Gauge
	inflightNodes prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	runsTotal         *prometheus.CounterVec
	nodeFailures      *prometheus.CounterVec
	foreachIterations *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics creates and registers all execution metrics with the provided
// registry. Pass nil to use prometheus.DefaultRegisterer; a dedicated
// registry is recommended for isolation.
//
// Histogram buckets are tuned for typical node execution times (1ms to 10s).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		enabled:  true,
	}

	m.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodeflow",
		Name:      "active_runs",
		Help:      "Number of runs currently executing, including ForEach sub-runs",
	})

	m.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodeflow",
		Name:      "inflight_nodes",
		Help:      "Current number of node Process invocations executing concurrently",
	})

	m.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nodeflow",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds (from dispatch to completion)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000}, // 1ms to 10s
	}, []string{"node_type", "status"}) // status: success, error

	m.runsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeflow",
		Name:      "runs_total",
		Help:      "Terminal run outcomes",
	}, []string{"status"}) // status: completed, error, cancelled

	m.nodeFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeflow",
		Name:      "node_failures_total",
		Help:      "Node failures by node type and error code",
	}, []string{"node_type", "code"})

	m.foreachIterations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodeflow",
		Name:      "foreach_iterations_total",
		Help:      "ForEach iteration outcomes",
	}, []string{"status"}) // status: success, error

	return m
}

// RecordNodeLatency records one node execution's duration and outcome.
func (m *Metrics) RecordNodeLatency(nodeType string, latency time.Duration, status string) {
	if !m.isEnabled() {
		return
	}
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(latency.Milliseconds()))
}

// RecordRunOutcome counts a terminal run status.
func (m *Metrics) RecordRunOutcome(status RunStatus) {
	if !m.isEnabled() {
		return
	}
	m.runsTotal.WithLabelValues(string(status)).Inc()
}

// RecordNodeFailure counts a node failure by type and error code.
func (m *Metrics) RecordNodeFailure(nodeType, code string) {
	if !m.isEnabled() {
		return
	}
	m.nodeFailures.WithLabelValues(nodeType, code).Inc()
}

// RecordForEachIteration counts one ForEach iteration outcome
// ("success" or "error").
func (m *Metrics) RecordForEachIteration(status string) {
	if !m.isEnabled() {
		return
	}
	m.foreachIterations.WithLabelValues(status).Inc()
}

// RunStarted / RunFinished track the active_runs gauge.
func (m *Metrics) RunStarted() {
	if m.isEnabled() {
		m.activeRuns.Inc()
	}
}

func (m *Metrics) RunFinished() {
	if m.isEnabled() {
		m.activeRuns.Dec()
	}
}

// NodeStarted / NodeFinished track the inflight_nodes gauge.
func (m *Metrics) NodeStarted() {
	if m.isEnabled() {
		m.inflightNodes.Inc()
	}
}

func (m *Metrics) NodeFinished() {
	if m.isEnabled() {
		m.inflightNodes.Dec()
	}
}

func (m *Metrics) isEnabled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable temporarily disables metric recording (useful for testing).
func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Enable re-enables metric recording after Disable().
func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Reset clears the gauge values. Counters and histograms are cumulative by
// design and cannot be reset without unregistering.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeRuns.Set(0)
	m.inflightNodes.Set(0)
}
