package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_queries_total",
			Help: "Total queries by resolved route target",
		},
		[]string{"target"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dispatch_handler_duration_seconds",
			Help: "Handler execution duration in seconds",
		},
		[]string{"handler"},
	)

	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_model_calls_total",
			Help: "Model calls by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	ModelFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_model_failovers_total",
			Help: "Tier switches caused by rate-limit errors",
		},
		[]string{"from"},
	)

	UpdatesForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_updates_forwarded_total",
			Help: "Incremental updates forwarded to chat surfaces",
		},
	)

	AgentFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_agent_fallbacks_total",
			Help: "Queries handed off to the reasoning agent after a deterministic path declined or failed",
		},
	)

	TerminalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_terminal_failures_total",
			Help: "Reasoning-agent terminal failures by coarse category",
		},
		[]string{"category"},
	)
)
