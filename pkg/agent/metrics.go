package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bicopilot_agent_runs_total",
			Help: "Total number of agent runs, by outcome",
		},
		[]string{"outcome"},
	)

	attemptsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bicopilot_agent_attempts_per_run",
			Help:    "Number of generate/execute attempts per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	guardrailBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bicopilot_agent_guardrail_blocks_total",
			Help: "Total number of attempts in which the guardrail blocked at least one candidate",
		},
	)

	candidateExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bicopilot_agent_candidate_executions_total",
			Help: "Total number of candidate executions, by status",
		},
		[]string{"status"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bicopilot_agent_llm_call_duration_seconds",
			Help:    "Duration of text-generation calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"call", "status"},
	)
)
