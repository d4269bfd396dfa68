package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts finished runs by terminal status
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crev_runs_total",
		Help: "Total analysis runs by terminal status",
	}, []string{"status"})

	// runDuration tracks wall time from start to terminal state
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crev_run_duration_seconds",
		Help:    "Analysis run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"status"})

	// filesAnalyzed counts files sent to a backend
	filesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crev_files_analyzed_total",
		Help: "Total changed files sent to the analysis backend",
	})

	// findingsTotal counts persisted findings by final severity
	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crev_findings_total",
		Help: "Total persisted findings by final severity",
	}, []string{"severity"})
)
