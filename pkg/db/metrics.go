package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bicopilot_db_queries_total",
			Help: "Total number of SQL statements executed, by backend and status",
		},
		[]string{"backend", "status"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bicopilot_db_query_duration_seconds",
			Help:    "Duration of SQL statement execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

func observeQuery(backend Backend, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	queriesTotal.WithLabelValues(string(backend), status).Inc()
	queryDuration.WithLabelValues(string(backend)).Observe(time.Since(start).Seconds())
}
