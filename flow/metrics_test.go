package flow

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			key := ""
			for _, l := range m.GetLabel() {
				if key != "" {
					key += ","
				}
				key += l.GetName() + "=" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunStarted()
	m.RecordRunOutcome(RunCompleted)
	m.RecordRunOutcome(RunError)
	m.RecordNodeLatency("TextStrip", 12*time.Millisecond, "success")
	m.RecordNodeFailure("MathOperation", CodeNodeProcess)
	m.RecordForEachIteration("success")
	m.RecordForEachIteration("error")

	runs := gatherFamily(t, reg, "nodeflow_runs_total")
	if runs["status=completed"] != 1 || runs["status=error"] != 1 {
		t.Errorf("unexpected runs_total: %v", runs)
	}

	active := gatherFamily(t, reg, "nodeflow_active_runs")
	if active[""] != 1 {
		t.Errorf("active_runs = %v, want 1", active)
	}
	m.RunFinished()
	active = gatherFamily(t, reg, "nodeflow_active_runs")
	if active[""] != 0 {
		t.Errorf("active_runs after finish = %v, want 0", active)
	}

	latency := gatherFamily(t, reg, "nodeflow_node_latency_ms")
	if latency["node_type=TextStrip,status=success"] != 1 {
		t.Errorf("unexpected latency samples: %v", latency)
	}

	failures := gatherFamily(t, reg, "nodeflow_node_failures_total")
	if failures["code="+CodeNodeProcess+",node_type=MathOperation"] != 1 {
		t.Errorf("unexpected failures: %v", failures)
	}

	iters := gatherFamily(t, reg, "nodeflow_foreach_iterations_total")
	if iters["status=success"] != 1 || iters["status=error"] != 1 {
		t.Errorf("unexpected iterations: %v", iters)
	}
}

func TestMetricsDisable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Disable()
	m.RecordRunOutcome(RunCompleted)
	if runs := gatherFamily(t, reg, "nodeflow_runs_total"); len(runs) != 0 {
		t.Errorf("disabled metrics must not record, got %v", runs)
	}

	m.Enable()
	m.RecordRunOutcome(RunCompleted)
	if runs := gatherFamily(t, reg, "nodeflow_runs_total"); runs["status=completed"] != 1 {
		t.Errorf("re-enabled metrics must record, got %v", runs)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	// Every recording method must tolerate an unconfigured Metrics.
	m.RunStarted()
	m.RunFinished()
	m.NodeStarted()
	m.NodeFinished()
	m.RecordRunOutcome(RunCompleted)
	m.RecordNodeLatency("x", time.Millisecond, "success")
	m.RecordNodeFailure("x", CodeNodeProcess)
	m.RecordForEachIteration("success")
}

func TestMetricsReset(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RunStarted()
	m.NodeStarted()
	m.Reset()

	if active := gatherFamily(t, reg, "nodeflow_active_runs"); active[""] != 0 {
		t.Errorf("active_runs after Reset = %v, want 0", active)
	}
	if inflight := gatherFamily(t, reg, "nodeflow_inflight_nodes"); inflight[""] != 0 {
		t.Errorf("inflight_nodes after Reset = %v, want 0", inflight)
	}
}
