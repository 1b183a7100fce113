package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpimport",
		Name:      "imports_total",
		Help:      "Import phases finished, by dataset, phase and outcome.",
	}, []string{"dataset", "phase", "outcome"})

	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "erpimport",
		Name:      "rows_total",
		Help:      "Records written or removed by imports, by action.",
	}, []string{"action"})

	importDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "erpimport",
		Name:      "import_duration_seconds",
		Help:      "Duration of import phases.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"dataset", "phase"})
)

// Outcome label values.
const (
	outcomeSuccess   = "success"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
	outcomeRejected  = "rejected"
)

func observePhase(dataset Dataset, phase string, start time.Time, err error) {
	importDuration.WithLabelValues(string(dataset), phase).Observe(time.Since(start).Seconds())

	outcome := outcomeSuccess
	switch {
	case err == nil:
	case isCancellation(err):
		outcome = outcomeCancelled
	case isRejection(err):
		outcome = outcomeRejected
	default:
		outcome = outcomeFailed
	}
	importsTotal.WithLabelValues(string(dataset), phase, outcome).Inc()
}

func observeRows(stats ExecutionStats) {
	rowsTotal.WithLabelValues("inserted").Add(float64(stats.Inserted))
	rowsTotal.WithLabelValues("updated").Add(float64(stats.Updated))
	rowsTotal.WithLabelValues("deleted").Add(float64(stats.Deleted))
	rowsTotal.WithLabelValues("failed").Add(float64(stats.Failed))
}
