package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides the runtime's Prometheus collectors.
//
// Tracked surfaces:
//   - Provider stream requests, retries, and circuit transitions
//   - Tool execution counts and latencies
//   - Agent tree population and duty (kartavya) fires
//   - Channel broadcast volume
type Metrics struct {
	// StreamRequestCounter counts provider stream attempts.
	// Labels: provider, model, status (success|error)
	StreamRequestCounter *prometheus.CounterVec

	// StreamDuration measures end-to-end stream latency in seconds.
	// Labels: provider, model
	StreamDuration *prometheus.HistogramVec

	// StreamRetryCounter counts retry attempts per provider.
	// Labels: provider
	StreamRetryCounter *prometheus.CounterVec

	// CircuitTransitionCounter counts breaker state changes.
	// Labels: provider, to_state (open|half-open|closed)
	CircuitTransitionCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// LiveAgents is a gauge tracking agents currently registered in the tree.
	LiveAgents prometheus.Gauge

	// ActiveChannels is a gauge tracking channels open in the hub.
	ActiveChannels prometheus.Gauge

	// BroadcastCounter counts channel broadcasts.
	// Labels: channel, severity
	BroadcastCounter *prometheus.CounterVec

	// KartavyaFireCounter counts duty trigger fires.
	// Labels: trigger_type (cron|event|threshold|pattern), status (dispatched|cooldown|rate_capped)
	KartavyaFireCounter *prometheus.CounterVec

	// StrategySelectionCounter counts orchestration strategy selections.
	// Labels: strategy
	StrategySelectionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with the given registerer.
// Passing nil uses the default Prometheus registry. Call once at boot.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StreamRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_stream_requests_total",
				Help: "Total provider stream attempts by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chitragupta_stream_duration_seconds",
				Help:    "End-to-end provider stream latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		StreamRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_stream_retries_total",
				Help: "Total provider stream retry attempts",
			},
			[]string{"provider"},
		),
		CircuitTransitionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_circuit_transitions_total",
				Help: "Circuit breaker state transitions by provider and target state",
			},
			[]string{"provider", "to_state"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_tokens_total",
				Help: "Token consumption by provider, model, and token class",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_tool_executions_total",
				Help: "Tool invocations by tool and outcome",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chitragupta_tool_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		LiveAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chitragupta_live_agents",
				Help: "Agents currently registered in the tree",
			},
		),
		ActiveChannels: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chitragupta_active_channels",
				Help: "Channels currently open in the hub",
			},
		),
		BroadcastCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_broadcasts_total",
				Help: "Channel broadcasts by channel and severity",
			},
			[]string{"channel", "severity"},
		),
		KartavyaFireCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_kartavya_fires_total",
				Help: "Duty trigger evaluations that fired, by trigger type and gate outcome",
			},
			[]string{"trigger_type", "status"},
		),
		StrategySelectionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chitragupta_strategy_selections_total",
				Help: "Orchestration strategy selections by strategy name",
			},
			[]string{"strategy"},
		),
	}
}
