package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the collector's own operational counters, exposed on
// /metrics.
type Metrics struct {
	ReportsIngested     *prometheus.CounterVec
	VitalsObserved      *prometheus.CounterVec
	BeaconsRejected     *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
	StreamClients       prometheus.Gauge
}

// NewMetrics creates and registers the metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagepulse",
			Name:      "reports_ingested_total",
			Help:      "Error reports accepted by the collector.",
		}, []string{"kind"}),
		VitalsObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagepulse",
			Name:      "vitals_observations_total",
			Help:      "Web Vitals entries folded into the session snapshot.",
		}, []string{"metric"}),
		BeaconsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagepulse",
			Name:      "beacons_rejected_total",
			Help:      "Beacons rejected before ingestion.",
		}, []string{"reason"}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagepulse",
			Name:      "persistence_failures_total",
			Help:      "Best-effort repository writes that failed.",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagepulse",
			Name:      "stream_clients",
			Help:      "Connected live-stream websocket clients.",
		}),
	}

	reg.MustRegister(
		m.ReportsIngested,
		m.VitalsObserved,
		m.BeaconsRejected,
		m.PersistenceFailures,
		m.StreamClients,
	)

	return m
}
