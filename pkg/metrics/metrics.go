// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "query_type", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// StreamConnectionsActive tracks active chat stream connections.
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_stream_connections_active",
			Help: "Number of active chat stream connections",
		},
	)

	// ToolInvocationsTotal tracks tool executions by outcome.
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_invocations_total",
			Help: "Total tool invocations",
		},
		[]string{"tool", "outcome"},
	)

	// ResponseCacheLookups tracks response cache hits and misses.
	ResponseCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	// ReasoningDuration tracks reasoning stage duration.
	ReasoningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reasoning_stage_duration_seconds",
			Help:    "Reasoning model pass duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
		},
	)

	// MessagesTotal tracks messages persisted by role and status.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_messages_total",
			Help: "Total conversation messages persisted",
		},
		[]string{"role", "status"},
	)

	// HumanHandoffsTotal tracks human handoff decisions.
	HumanHandoffsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "human_handoffs_total",
			Help: "Total conversations handed off to humans",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, queryType, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, queryType, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordToolInvocation records a tool execution outcome.
func RecordToolInvocation(tool string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordCacheLookup records a response cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ResponseCacheLookups.WithLabelValues(result).Inc()
}

// IncrementStreamConnections increments the active stream count.
func IncrementStreamConnections() {
	StreamConnectionsActive.Inc()
}

// DecrementStreamConnections decrements the active stream count.
func DecrementStreamConnections() {
	StreamConnectionsActive.Dec()
}
