package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	LotsReceived        prometheus.Counter
	UnitsAllocated      prometheus.Counter
	OverrideAllocations prometheus.Counter
	AllocationFailures  *prometheus.CounterVec
	Reversals           prometheus.Counter
	PeriodTransitions   *prometheus.CounterVec
	LockWaitSeconds     *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LotsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lots_received_total",
			Help:      "Import lots created by goods receipts",
		}),
		UnitsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_allocated_total",
			Help:      "Units allocated to sale lines across all lots",
		}),
		OverrideAllocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_allocations_total",
			Help:      "Allocations recorded before the import paperwork existed",
		}),
		AllocationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_failures_total",
			Help:      "Failed allocations by error kind",
		}, []string{"kind"}),
		Reversals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocation_reversals_total",
			Help:      "Sale lines whose allocations were reversed",
		}),
		PeriodTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "period_transitions_total",
			Help:      "VAT period lock state changes",
		}, []string{"transition"}),
		LockWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for product/period locks",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"scope"}),
	}

	m.registry.MustRegister(
		m.LotsReceived,
		m.UnitsAllocated,
		m.OverrideAllocations,
		m.AllocationFailures,
		m.Reversals,
		m.PeriodTransitions,
		m.LockWaitSeconds,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
