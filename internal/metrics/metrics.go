// Package metrics exposes Prometheus instrumentation for sessions,
// tool execution, and memory operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	toolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubechat_tool_executions_total",
			Help: "Total number of MCP tool executions",
		},
		[]string{"tool_name", "status"},
	)

	toolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubechat_tool_latency_seconds",
			Help:    "MCP tool execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool_name"},
	)

	mcpConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubechat_mcp_connected",
			Help: "MCP server connection state (1=connected, 0=disconnected)",
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubechat_active_sessions",
			Help: "Number of live sessions in the registry",
		},
	)

	sessionEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubechat_session_evictions_total",
			Help: "Total number of sessions evicted by the per-user cap",
		},
	)

	turnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubechat_turns_total",
			Help: "Total number of conversation turns appended",
		},
		[]string{"role"},
	)

	agentIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubechat_agent_iterations",
			Help:    "Number of model calls per message in the tool loop",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	memoryItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubechat_memory_items_total",
			Help: "Total number of memory items stored",
		},
		[]string{"kind"},
	)
)

// RecordToolExecution records one tool invocation.
func RecordToolExecution(toolName, status string, latencySeconds float64) {
	toolExecutions.WithLabelValues(toolName, status).Inc()
	toolLatency.WithLabelValues(toolName).Observe(latencySeconds)
}

// RecordMCPConnected records the MCP connection state.
func RecordMCPConnected(connected bool) {
	if connected {
		mcpConnected.Set(1)
	} else {
		mcpConnected.Set(0)
	}
}

// RecordActiveSessions records the live session count.
func RecordActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordEviction records one cap-driven session eviction.
func RecordEviction() {
	sessionEvictions.Inc()
}

// RecordTurn records one appended conversation turn.
func RecordTurn(role string) {
	turnsProcessed.WithLabelValues(role).Inc()
}

// RecordAgentIterations records the model call count for one message.
func RecordAgentIterations(n int) {
	agentIterations.Observe(float64(n))
}

// RecordMemoryItem records one stored memory item.
func RecordMemoryItem(kind string) {
	memoryItems.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
