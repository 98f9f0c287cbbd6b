package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the sync core's Prometheus collectors. A nil *Metrics records
// nothing, which keeps tests free of registries.
type Metrics struct {
	events         *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	rebuilds       prometheus.Counter
	sessions       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Row-change events dispatched, by stream and op.",
		}, []string{"stream", "op"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_dispatch_errors_total",
			Help: "Row-change events that could not be decoded or handled.",
		}, []string{"stream"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_write_failures_total",
			Help: "Authoritative writes that failed after an optimistic update.",
		}, []string{"op"}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_conversation_rebuilds_total",
			Help: "Conversation list rebuilds.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_sessions",
			Help: "Live sync sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.dispatchErrors, m.writeFailures, m.rebuilds, m.sessions)
	}
	return m
}

func (m *Metrics) event(stream, op string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(stream, op).Inc()
}

func (m *Metrics) dispatchFailed(stream string) {
	if m == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(stream).Inc()
}

func (m *Metrics) writeFailed(op string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) rebuilt() {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
}

func (m *Metrics) sessionDelta(d float64) {
	if m == nil {
		return
	}
	m.sessions.Add(d)
}
