// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	llmCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testcraft_llm_call_duration_seconds",
		Help:    "Duration of completion calls by operation and outcome",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"op", "outcome"})

	gateResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testcraft_gate_results_total",
		Help: "Moderation gate outcomes by gate and result",
	}, []string{"gate", "result"})

	violationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testcraft_violations_recorded_total",
		Help: "Violations appended to user accounts",
	}, []string{"kind"})

	blocksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testcraft_blocks_applied_total",
		Help: "Accounts that crossed the violation threshold",
	})

	blocksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testcraft_blocks_expired_total",
		Help: "Blocks lifted lazily by a status check",
	})

	flowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testcraft_flow_duration_seconds",
		Help:    "End-to-end flow duration by flow and result kind",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"flow", "result"})

	mergedTestCases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testcraft_merged_test_cases_total",
		Help: "Test cases replaced during revision merges",
	}, []string{"source"})
)

// ObserveLLMCall records a completion call.
func ObserveLLMCall(op, outcome string, d time.Duration) {
	llmCallDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// GateResult records a moderation gate outcome ("pass", "fail", "error").
func GateResult(gate, result string) {
	gateResults.WithLabelValues(gate, result).Inc()
}

// ViolationRecorded counts an appended violation.
func ViolationRecorded(kind string) {
	violationsRecorded.WithLabelValues(kind).Inc()
}

// BlockApplied counts an account entering the blocked state.
func BlockApplied() {
	blocksApplied.Inc()
}

// BlockExpired counts a lazily lifted block.
func BlockExpired() {
	blocksExpired.Inc()
}

// ObserveFlow records a completed flow.
func ObserveFlow(flow, result string, d time.Duration) {
	flowDuration.WithLabelValues(flow, result).Observe(d.Seconds())
}

// TestCasesMerged counts test cases replaced by a revision.
func TestCasesMerged(source string, n int) {
	if n <= 0 {
		return
	}
	mergedTestCases.WithLabelValues(source).Add(float64(n))
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
