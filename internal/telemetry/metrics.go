package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for provisioning and reconciliation.
type Metrics struct {
	SitesCreated      *prometheus.CounterVec
	PollChecked       prometheus.Counter
	PollTransitions   *prometheus.CounterVec
	PollUnknownStatus prometheus.Counter
	RemoteCalls       *prometheus.CounterVec
	OrdersProcessed   *prometheus.CounterVec
	PermanenceChanges *prometheus.CounterVec
	DemoConversions   prometheus.Counter
	PendingSites      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SitesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sites_created_total",
			Help:      "Site creation attempts by outcome (pool, task, failed, transport_error).",
		}, []string{"outcome"}),
		PollChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_checked_total",
			Help:      "Pending tasks inspected by the sweep.",
		}),
		PollTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_transitions_total",
			Help:      "Terminal status transitions written by the sweep.",
		}, []string{"to"}),
		PollUnknownStatus: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_unknown_status_total",
			Help:      "Task status codes outside the documented set.",
		}),
		RemoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Provisioning API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		OrdersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_processed_total",
			Help:      "Order events by outcome (processed, skipped, disabled, partial).",
		}, []string{"outcome"}),
		PermanenceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permanence_changes_total",
			Help:      "Permanence requests by outcome (changed, unchanged, deleted, failed).",
		}, []string{"outcome"}),
		DemoConversions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "demo_conversions_total",
			Help:      "Demo sites converted to paid.",
		}),
		PendingSites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_sites",
			Help:      "Sites in progress at the end of the last sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SitesCreated,
			m.PollChecked,
			m.PollTransitions,
			m.PollUnknownStatus,
			m.RemoteCalls,
			m.OrdersProcessed,
			m.PermanenceChanges,
			m.DemoConversions,
			m.PendingSites,
		)
	}
	return m
}
