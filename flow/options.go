package flow

import (
	"time"

	"github.com/nodeflow/nodeflow-go/flow/emit"
)

// Option is a functional option for configuring an Executor.
//
// Example:
//
//	exec, err := flow.NewExecutor(
//	    flow.WithMaxConcurrent(16),
//	    flow.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
//	)
type Option func(*executorConfig) error

// executorConfig collects options before the Executor is built, allowing
// validation and composition.
type executorConfig struct {
	emitter               emit.Emitter
	metrics               *Metrics
	maxConcurrent         int
	defaultNodeTimeout    time.Duration
	foreachDefaultWorkers int
}

func defaultConfig() executorConfig {
	return executorConfig{
		emitter:               emit.NewNullEmitter(),
		foreachDefaultWorkers: 64,
	}
}

// WithEmitter routes execution events (run_start, node_start, node_end,
// node_error, run_end, ForEach iteration events) to the given emitter.
//
// Default: a NullEmitter that discards everything.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *executorConfig) error {
		if e == nil {
			return &EngineError{Message: "emitter must not be nil", Code: CodeInvalidOption}
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	exec, _ := flow.NewExecutor(flow.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *Metrics) Option {
	return func(cfg *executorConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithMaxConcurrent caps the number of nodes executing concurrently within
// one run.
//
// Default: 0 (no cap; every ready node is dispatched immediately).
//
// Tuning guidance: I/O-bound node libraries tolerate 10-50; CPU-bound work
// is happiest near runtime.NumCPU().
func WithMaxConcurrent(n int) Option {
	return func(cfg *executorConfig) error {
		if n < 0 {
			return &EngineError{Message: "max concurrent must be >= 0", Code: CodeInvalidOption}
		}
		cfg.maxConcurrent = n
		return nil
	}
}

// WithDefaultNodeTimeout bounds each node's Process call. When exceeded the
// node fails with context.DeadlineExceeded.
//
// Default: 0 (no per-node timeout).
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *executorConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout must be >= 0", Code: CodeInvalidOption}
		}
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithForEachDefaultWorkers sets the concurrency cap a ForEach node uses
// when parallel is true and the workflow sets no max_workers.
//
// Default: 64. The effective cap is min(len(items), this value).
func WithForEachDefaultWorkers(n int) Option {
	return func(cfg *executorConfig) error {
		if n < 1 {
			return &EngineError{Message: "foreach default workers must be >= 1", Code: CodeInvalidOption}
		}
		cfg.foreachDefaultWorkers = n
		return nil
	}
}
