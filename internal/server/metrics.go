package server

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook results recorded in propagator_webhooks_total
const (
	resultQueued           = "queued"
	resultPing             = "ping"
	resultIgnored          = "ignored"
	resultInvalidSignature = "invalid_signature"
	resultBadRequest       = "bad_request"
	resultInvalidVersion   = "invalid_version"
	resultQueueFull        = "queue_full"
)

// Metrics holds the serve-mode Prometheus collectors
type Metrics struct {
	registry *prom.Registry
	runs     *prom.CounterVec
	webhooks *prom.CounterVec
	duration prom.Histogram
}

// NewMetrics constructs and registers the collectors on reg. A nil reg gets a
// private registry.
func NewMetrics(reg *prom.Registry, queueLength func() float64) *Metrics {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "propagator",
			Name:      "runs_total",
			Help:      "Release runs by final status",
		}, []string{"outcome"}),
		webhooks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "propagator",
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by handling result",
		}, []string{"result"}),
		duration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "propagator",
			Name:      "run_duration_seconds",
			Help:      "Duration of release runs, including the clone",
			Buckets:   prom.DefBuckets,
		}),
	}
	reg.MustRegister(m.runs, m.webhooks, m.duration)
	if queueLength != nil {
		reg.MustRegister(prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: "propagator",
			Name:      "queue_length",
			Help:      "Release events waiting for the worker",
		}, queueLength))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) webhook(result string) {
	m.webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) run(outcome string, seconds float64) {
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}
