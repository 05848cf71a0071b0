// Package observability collects Prometheus metrics for the
// orchestration engine and its channel adapters.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks message flow, provider calls, retries, and tool
// executions. Create once at startup; the collectors register with
// the default Prometheus registry and serve from /metrics. All
// methods accept a nil receiver, so callers can run without metrics.
type Metrics struct {
	// MessageCounter tracks messages by channel and direction.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokens tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokens *prometheus.CounterVec

	// RetryCounter counts backoff retries by error class.
	// Labels: class
	RetryCounter *prometheus.CounterVec

	// DegradedCounter counts turns that ended in an apology reply.
	// Labels: class
	DegradedCounter *prometheus.CounterVec

	// ToolExecutionCounter counts function-call executions.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures function execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ReplyCounter counts resolved replies by kind.
	// Labels: kind (text|image|file|video|error)
	ReplyCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors. Call once.
func NewMetrics() *Metrics {
	return &Metrics{
		MessageCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_total",
				Help: "Messages processed by channel and direction",
			},
			[]string{"channel", "direction"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_provider_request_duration_seconds",
				Help:    "Duration of provider completion calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_provider_requests_total",
				Help: "Provider completion calls by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_provider_tokens_total",
				Help: "Tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		RetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_retries_total",
				Help: "Backoff retries by classified error",
			},
			[]string{"class"},
		),

		DegradedCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_degraded_replies_total",
				Help: "Turns that exhausted retries or hit a fatal error",
			},
			[]string{"class"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_executions_total",
				Help: "Function-call executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_tool_execution_duration_seconds",
				Help:    "Duration of function executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ReplyCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_replies_total",
				Help: "Resolved replies by kind",
			},
			[]string{"kind"},
		),
	}
}

// MessageReceived increments the inbound message counter.
func (m *Metrics) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "inbound").Inc()
}

// MessageSent increments the outbound message counter.
func (m *Metrics) MessageSent(channel string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(channel, "outbound").Inc()
}

// RecordProviderRequest records one completion call.
func (m *Metrics) RecordProviderRequest(provider, model, status string, seconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(seconds)
	if promptTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordRetry counts one backoff retry.
func (m *Metrics) RecordRetry(class string) {
	if m == nil {
		return
	}
	m.RetryCounter.WithLabelValues(class).Inc()
}

// RecordDegraded counts one apology reply.
func (m *Metrics) RecordDegraded(class string) {
	if m == nil {
		return
	}
	m.DegradedCounter.WithLabelValues(class).Inc()
}

// RecordToolExecution records one function execution.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordReply counts one resolved reply.
func (m *Metrics) RecordReply(kind string) {
	if m == nil {
		return
	}
	m.ReplyCounter.WithLabelValues(kind).Inc()
}
