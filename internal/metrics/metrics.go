// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	EventsTotal     *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	BroadcastsTotal prometheus.Counter
	InternalErrors  *prometheus.CounterVec
	ActiveGroups    prometheus.GaugeFunc
	OpenConnections prometheus.GaugeFunc
	GroupsReaped    prometheus.Counter
}

// New registers the service collectors on reg. activeGroups and
// openConnections are sampled lazily at scrape time.
func New(reg *prometheus.Registry, activeGroups, openConnections func() float64) *Metrics {
	m := &Metrics{
		Registry: reg,
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_inbound_events_total",
			Help: "Inbound protocol events processed, by event tag.",
		}, []string{"event"}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_inbound_events_rejected_total",
			Help: "Inbound events dropped before processing, by reason.",
		}, []string{"reason"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_broadcasts_total",
			Help: "Outbound topic broadcasts emitted.",
		}),
		InternalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_internal_errors_total",
			Help: "Operator-visible failures by stage (persist, directory, encode).",
		}, []string{"stage"}),
		ActiveGroups: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sync_active_groups",
			Help: "Groups currently tracked in the in-memory table.",
		}, activeGroups),
		OpenConnections: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "sync_open_connections",
			Help: "Live websocket connections.",
		}, openConnections),
		GroupsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_groups_reaped_total",
			Help: "Idle never-completed groups removed by the sweeper.",
		}),
	}
	reg.MustRegister(
		m.EventsTotal,
		m.EventsRejected,
		m.BroadcastsTotal,
		m.InternalErrors,
		m.ActiveGroups,
		m.OpenConnections,
		m.GroupsReaped,
	)
	return m
}

// RecordError is the hook shape the domain services accept.
func (m *Metrics) RecordError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.InternalErrors.WithLabelValues(stage).Inc()
}
