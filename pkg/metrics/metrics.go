// Package metrics exposes Prometheus counters for the delivery pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries its own registry so tests can build isolated instances
// without tripping duplicate-registration panics.
type Metrics struct {
	reg *prometheus.Registry

	BroadcastsCreated prometheus.Counter
	Sends             *prometheus.CounterVec // channel, outcome
	Retries           *prometheus.CounterVec // channel
	Receipts          *prometheus.CounterVec // state
	Acks              prometheus.Counter
	InFlight          *prometheus.GaugeVec // channel
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		BroadcastsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tourcast", Name: "broadcasts_created_total",
			Help: "Broadcasts accepted by createBroadcast.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourcast", Name: "sends_total",
			Help: "Send attempts by channel and outcome (accepted/rejected/unavailable).",
		}, []string{"channel", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourcast", Name: "send_retries_total",
			Help: "Retries of transiently failed sends, by channel.",
		}, []string{"channel"}),
		Receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourcast", Name: "receipts_total",
			Help: "Provider delivery receipts ingested, by reported state.",
		}, []string{"state"}),
		Acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tourcast", Name: "acknowledgments_total",
			Help: "Recipient acknowledgments ingested.",
		}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tourcast", Name: "sends_in_flight",
			Help: "Send attempts currently executing, by channel.",
		}, []string{"channel"}),
	}
	m.reg.MustRegister(m.BroadcastsCreated, m.Sends, m.Retries, m.Receipts, m.Acks, m.InFlight)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
