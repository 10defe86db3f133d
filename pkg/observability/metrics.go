package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgo_protocol_requests_total",
			Help: "Total number of protocol requests by message type and status",
		},
		[]string{"type", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexgo_protocol_request_duration_seconds",
			Help:    "Protocol request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgo_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	agentSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgo_agent_spawns_total",
			Help: "Total number of agent spawn attempts",
		},
		[]string{"kind", "status"},
	)

	activeAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexgo_active_agents",
			Help: "Number of currently registered agents",
		},
	)

	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgo_workflows_total",
			Help: "Total number of workflow executions by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lexgo_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexgo_audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"type"},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus collectors. Safe to call more than
// once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			requestsTotal,
			requestDuration,
			toolCallsTotal,
			agentSpawnsTotal,
			activeAgents,
			workflowsTotal,
			workflowDuration,
			auditEventsTotal,
		)
	})
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one protocol request.
func RecordRequest(msgType, status string, duration time.Duration) {
	requestsTotal.WithLabelValues(msgType, status).Inc()
	requestDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation.
func RecordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordAgentSpawn records one spawn attempt.
func RecordAgentSpawn(kind, status string) {
	agentSpawnsTotal.WithLabelValues(kind, status).Inc()
}

// SetActiveAgents sets the registered-agents gauge.
func SetActiveAgents(count int) {
	activeAgents.Set(float64(count))
}

// RecordWorkflow records one workflow execution.
func RecordWorkflow(kind, status string, duration time.Duration) {
	workflowsTotal.WithLabelValues(kind, status).Inc()
	workflowDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAuditEvent records one audit event emission.
func RecordAuditEvent(eventType string) {
	auditEventsTotal.WithLabelValues(eventType).Inc()
}
