// Package metrics defines the runtime's Prometheus collectors, trimmed to
// this core's own surface: ReAct loop iterations, tool calls, session
// counts, and trigger fires.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this runtime emits. New takes an explicit
// prometheus.Registerer, rather than registering against the global default,
// so callers, including tests, can isolate registration per instance.
type Metrics struct {
	LoopIterations *prometheus.HistogramVec
	LoopTimeouts   *prometheus.CounterVec

	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	ActiveSessions *prometheus.GaugeVec
	SessionMessages *prometheus.HistogramVec

	TriggerFires *prometheus.CounterVec
}

// New builds and registers every collector against reg. Passing
// prometheus.DefaultRegisterer registers against the global registry at
// process startup; passing a fresh prometheus.NewRegistry() isolates
// registration, which is what this package's own tests do to avoid
// duplicate-registration panics across subtests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoopIterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orcha_react_loop_iterations",
				Help:    "Number of model/tool round trips per ReAct loop run.",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"agent"},
		),
		LoopTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcha_react_loop_timeouts_total",
				Help: "Total number of ReAct loop runs that hit the iteration budget.",
			},
			[]string{"agent"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcha_tool_calls_total",
				Help: "Total number of tool invocations by tool name and outcome.",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orcha_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),
		ActiveSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orcha_active_sessions",
				Help: "Current number of sessions held in the conversation store.",
			},
			[]string{"agent"},
		),
		SessionMessages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orcha_session_messages",
				Help:    "Number of messages accumulated in a session at invocation time.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"agent"},
		),
		TriggerFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orcha_trigger_fires_total",
				Help: "Total number of trigger fires by agent, trigger type, and outcome.",
			},
			[]string{"agent", "trigger_type", "status"},
		),
	}

	reg.MustRegister(
		m.LoopIterations,
		m.LoopTimeouts,
		m.ToolCalls,
		m.ToolCallDuration,
		m.ActiveSessions,
		m.SessionMessages,
		m.TriggerFires,
	)
	return m
}

// ObserveToolCall records one tool invocation's outcome and duration.
func (m *Metrics) ObserveToolCall(tool string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(seconds)
}

// ObserveLoopRun records one ReAct loop run's iteration count, and whether
// it was cut short by the iteration budget.
func (m *Metrics) ObserveLoopRun(agent string, iterations int, timedOut bool) {
	m.LoopIterations.WithLabelValues(agent).Observe(float64(iterations))
	if timedOut {
		m.LoopTimeouts.WithLabelValues(agent).Inc()
	}
}

// ObserveTriggerFire records one trigger fire's outcome.
func (m *Metrics) ObserveTriggerFire(agent, triggerType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.TriggerFires.WithLabelValues(agent, triggerType, status).Inc()
}
