package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution results.
const (
	ResultOK         = "ok"
	ResultExitError  = "exit_error"
	ResultTimeout    = "timeout"
	ResultRejected   = "rejected"
	ResultSpawnError = "spawn_error"
)

var (
	RecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "journald_broker_records_total",
		Help: "Journal entries read since startup.",
	})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_broker_matches_total",
		Help: "Journal messages matching an event pattern.",
	}, []string{"event"})

	SuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_broker_suppressed_total",
		Help: "Matches skipped because the event was in its next watch delay.",
	}, []string{"event"})

	DispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_broker_dispatched_total",
		Help: "Scripts handed to the launcher queue.",
	}, []string{"event"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "journald_broker_executions_total",
		Help: "Finished script executions by result.",
	}, []string{"result"})

	ExecutionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "journald_broker_execution_seconds",
		Help:    "Wall time of script executions that were started.",
		Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 20, 60, 300},
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "journald_broker_queue_depth",
		Help: "Scripts waiting in the launcher queue.",
	})

	RunningChildren = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "journald_broker_running_children",
		Help: "Script processes currently running.",
	})
)
