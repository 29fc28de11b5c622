// Package metrics provides Prometheus collectors for turns, tool calls,
// escalations and completion cost.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shopassist"

// Recorder records assistant metrics. A nil *Recorder records nothing.
type Recorder struct {
	turnsTotal      *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	toolCallsTotal  *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	completionTotal *prometheus.CounterVec
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		turnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Turns processed by terminal status",
			},
			[]string{"status"},
		),
		turnDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration of a whole turn in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		toolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool calls executed by tool and status",
			},
			[]string{"tool", "status"},
		),
		escalations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Escalations to human review by urgency",
			},
			[]string{"urgency"},
		),
		costTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_cost_usd_total",
				Help:      "Completion cost in USD by model",
			},
			[]string{"model"},
		),
		completionTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completions_total",
				Help:      "Dialogue completions by model and status",
			},
			[]string{"model", "status"},
		),
	}
}

// ObserveTurn records a finished turn. status is empty for turns that failed
// with an infrastructure error.
func (r *Recorder) ObserveTurn(status string, d time.Duration) {
	if r == nil {
		return
	}
	if status == "" {
		status = "error"
	}
	r.turnsTotal.WithLabelValues(status).Inc()
	r.turnDuration.Observe(d.Seconds())
}

// ObserveToolCall records one executed tool call.
func (r *Recorder) ObserveToolCall(tool string, success bool) {
	if r == nil {
		return
	}
	r.toolCallsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
}

// IncEscalation counts a raised escalation.
func (r *Recorder) IncEscalation(urgency string) {
	if r == nil {
		return
	}
	r.escalations.WithLabelValues(urgency).Inc()
}

// ObserveCompletion records one dialogue completion and its cost.
func (r *Recorder) ObserveCompletion(model string, success bool, costUSD float64) {
	if r == nil {
		return
	}
	r.completionTotal.WithLabelValues(model, statusLabel(success)).Inc()
	if costUSD > 0 {
		r.costTotal.WithLabelValues(model).Add(costUSD)
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
