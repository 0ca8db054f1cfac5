// Package metrics exposes the Prometheus counters of the checkout service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	webhooks    *prometheus.CounterVec
	fulfillment *prometheus.CounterVec
	conversions *prometheus.CounterVec
	checkouts   *prometheus.CounterVec
	heartbeats  prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewCollector registers the counters on reg. reg must also be a
// Gatherer for Handler to serve it.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_webhook_events_total",
			Help: "Webhook deliveries by provider, event kind and result.",
		}, []string{"provider", "kind", "result"}),
		fulfillment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_fulfillment_outcomes_total",
			Help: "Purchase fulfillment outcomes.",
		}, []string{"outcome"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_conversion_reports_total",
			Help: "Conversion reports by event name and success.",
		}, []string{"event", "success"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_sessions_created_total",
			Help: "Checkout session creation attempts.",
		}, []string{"success"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_heartbeat_events_total",
			Help: "Synthetic heartbeat purchases sent.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(c.webhooks, c.fulfillment, c.conversions, c.checkouts, c.heartbeats)
	return c
}

func (c *Collector) Webhook(provider, kind, result string) {
	c.webhooks.WithLabelValues(provider, kind, result).Inc()
}

func (c *Collector) Fulfillment(outcome string) {
	c.fulfillment.WithLabelValues(outcome).Inc()
}

func (c *Collector) Conversion(event string, success bool) {
	c.conversions.WithLabelValues(event, strconv.FormatBool(success)).Inc()
}

func (c *Collector) Checkout(success bool) {
	c.checkouts.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (c *Collector) Heartbeat() {
	c.heartbeats.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
