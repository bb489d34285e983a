// Package metrics exports unit-of-work activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/unitofwork"
)

const (
	namespace = "surrealodm"
	subsystem = "unitofwork"
)

// Observer implements unitofwork.Observer.
type Observer struct {
	operations    *prometheus.CounterVec
	loaded        *prometheus.CounterVec
	dangling      *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram
}

var _ unitofwork.Observer = (*Observer)(nil)

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Observer{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Storage writes executed by flushes, by operation, table and status",
			},
			[]string{"operation", "table", "status"},
		),
		loaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "documents_loaded_total",
				Help:      "Documents loaded from storage",
			},
			[]string{"table"},
		),
		dangling: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dangling_references_total",
				Help:      "References whose target was missing during hydration",
			},
			[]string{"table"},
		),
		flushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "flushes_total",
				Help:      "Flushes by status",
			},
			[]string{"status"},
		),
		flushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "flush_duration_seconds",
				Help:      "Duration of flushes in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (o *Observer) OperationExecuted(kind unitofwork.OpKind, table string, err error) {
	o.operations.WithLabelValues(kind.String(), table, status(err)).Inc()
}

func (o *Observer) DocumentsLoaded(table string, n int) {
	o.loaded.WithLabelValues(table).Add(float64(n))
}

func (o *Observer) DanglingReference(ref models.RecordID) {
	o.dangling.WithLabelValues(ref.Table).Inc()
}

func (o *Observer) FlushCompleted(_ unitofwork.Stats, elapsed time.Duration, err error) {
	o.flushes.WithLabelValues(status(err)).Inc()
	o.flushDuration.Observe(elapsed.Seconds())
}
