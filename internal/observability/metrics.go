package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus metrics: LLM request volume and
// latency, token consumption, tool execution outcomes, bus traffic, and the
// shape of the task graph.
type Metrics struct {
	// LLMRequests counts LLM requests.
	// Labels: provider (anthropic|openai|bedrock), model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error|timeout|denied)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// EventsPublished counts events fanned out on the event bus.
	// Labels: event_type
	EventsPublished *prometheus.CounterVec

	// CommandQueueDepth is the current length of the command bus queue.
	CommandQueueDepth prometheus.Gauge

	// TaskTransitions counts task status changes.
	// Labels: from, to
	TaskTransitions *prometheus.CounterVec

	// TasksByStatus is the current number of tasks in each status.
	// Labels: status
	TasksByStatus *prometheus.GaugeVec

	// ActiveTaskRuns is the number of tasks the director is driving now.
	ActiveTaskRuns prometheus.Gauge

	// AgentRuns counts completed agent runs.
	// Labels: agent_id, outcome (completed|max_steps|denied|error)
	AgentRuns *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass nil to register with the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuablehelper_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valuablehelper_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuablehelper_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuablehelper_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "valuablehelper_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"tool_name"},
		),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuablehelper_events_published_total",
				Help: "Total number of events published on the event bus",
			},
			[]string{"event_type"},
		),

		CommandQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "valuablehelper_command_queue_depth",
				Help: "Current number of events waiting on the command bus",
			},
		),

		TaskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuablehelper_task_transitions_total",
				Help: "Total number of task status transitions",
			},
			[]string{"from", "to"},
		),

		TasksByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "valuablehelper_tasks",
				Help: "Current number of tasks by status",
			},
			[]string{"status"},
		),

		ActiveTaskRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "valuablehelper_active_task_runs",
				Help: "Number of tasks currently being driven by the director",
			},
		),

		AgentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "valuablehelper_agent_runs_total",
				Help: "Total number of agent runs by agent and outcome",
			},
			[]string{"agent_id", "outcome"},
		),
	}
}

// RecordLLMRequest records one LLM call with latency and token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequests.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool invocation outcome.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutions.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordEventPublished counts one event bus publication.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordTaskTransition counts one task status change.
func (m *Metrics) RecordTaskTransition(from, to string) {
	m.TaskTransitions.WithLabelValues(from, to).Inc()
}

// SetTasksByStatus replaces the tasks gauge for one status.
func (m *Metrics) SetTasksByStatus(status string, count int) {
	m.TasksByStatus.WithLabelValues(status).Set(float64(count))
}

// SetActiveTaskRuns replaces the director's in-flight task gauge.
func (m *Metrics) SetActiveTaskRuns(count int) {
	m.ActiveTaskRuns.Set(float64(count))
}

// RecordAgentRun counts one finished agent run.
func (m *Metrics) RecordAgentRun(agentID, outcome string) {
	m.AgentRuns.WithLabelValues(agentID, outcome).Inc()
}
