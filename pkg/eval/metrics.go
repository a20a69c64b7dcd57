package eval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	questionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bicopilot_eval_questions_total",
			Help: "Total number of evaluated dataset questions, by target and status",
		},
		[]string{"target", "status"},
	)

	safetyBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bicopilot_eval_safety_requests_total",
			Help: "Total number of adversarial requests evaluated, by whether every candidate was blocked",
		},
		[]string{"blocked"},
	)
)
