// Package metrics exposes the gateway's Prometheus collectors, grounded
// on the teacher's internal/observability/metrics.go package: the same
// promauto-registered-at-package-init shape, scaled down to the
// counters/gauges/histograms this gateway's components actually emit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionsActive tracks the number of bridged sessions currently open,
// incremented in internal/manager.register and decremented in
// internal/manager.Teardown.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "voicegateway_sessions_active",
	Help: "Current number of active bridged sessions.",
})

// SessionsTotal counts completed sessions by disconnect_reason.
var SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voicegateway_sessions_total",
	Help: "Total number of sessions that have ended, by disconnect reason.",
}, []string{"disconnect_reason"})

// SessionDuration measures session lifetime in seconds.
var SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "voicegateway_session_duration_seconds",
	Help:    "Duration of bridged sessions in seconds.",
	Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
})

// ToolExecutions counts dispatched tool calls by tool name and outcome.
var ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voicegateway_tool_executions_total",
	Help: "Total number of tool invocations by tool name and outcome.",
}, []string{"tool_name", "outcome"})

// ToolExecutionDuration measures tool handler latency in seconds.
var ToolExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "voicegateway_tool_execution_duration_seconds",
	Help:    "Duration of tool handler invocations in seconds.",
	Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
}, []string{"tool_name"})

// AgentSwitches counts agent handoffs by target agent id.
var AgentSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voicegateway_agent_switches_total",
	Help: "Total number of agent-switch tool calls, by target agent id.",
}, []string{"agent_id"})

// UpstreamDialFailures counts failed upstream handshakes by classified
// reason (auth_failed, handshake_failed).
var UpstreamDialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voicegateway_upstream_dial_failures_total",
	Help: "Total number of failed upstream WebSocket dial attempts, by reason.",
}, []string{"reason"})

// ConversationLogWrites counts convlog persistence attempts by outcome.
var ConversationLogWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voicegateway_conversation_log_writes_total",
	Help: "Total number of conversation document persistence attempts, by outcome.",
}, []string{"outcome"})
