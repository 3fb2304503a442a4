// Package telemetry exposes Prometheus metrics and tracers for the outreach runners.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "outreach"

// Run kinds used as the "kind" label.
const (
	KindExtraction = "extraction"
	KindCampaign   = "campaign"
)

// Metrics holds the service's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DomainsProcessed *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	MessagesSent     *prometheus.CounterVec
	SendDuration     prometheus.Histogram
	ActiveRuns       *prometheus.GaugeVec
	QueueDepth       prometheus.Gauge
	QuotaRejections  *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
}

// Provider bundles metrics with a tracer.
type Provider struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	gatherer prometheus.Gatherer
}

// NewProvider registers metrics on reg. Tests pass a fresh prometheus.NewRegistry().
func NewProvider(reg *prometheus.Registry) *Provider {
	return &Provider{
		Tracer:   otel.Tracer(serviceName),
		Metrics:  NewMetrics(reg),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// NewMetrics creates and registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DomainsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_domains_processed_total",
			Help: "Domains processed by extraction outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_fetch_duration_seconds",
			Help:    "Time to fetch and inspect one domain",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_messages_total",
			Help: "Campaign queue items processed by delivery outcome",
		}, []string{"outcome"}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_send_duration_seconds",
			Help:    "Time spent in a single delivery attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}),
		ActiveRuns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outreach_active_runs",
			Help: "Runs currently executing by kind",
		}, []string{"kind"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "outreach_dispatch_queue_depth",
			Help: "Tasks waiting for a dispatcher worker",
		}),
		QuotaRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_quota_rejections_total",
			Help: "Admissions rejected by quota kind",
		}, []string{"kind"}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_events_published_total",
			Help: "Progress events published to live connections by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) ObserveExtraction(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DomainsProcessed.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDelivery(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(outcome).Inc()
	m.SendDuration.Observe(elapsed.Seconds())
}

// RunStarted returns a func that marks the run finished.
func (m *Metrics) RunStarted(kind string) func() {
	if m == nil {
		return func() {}
	}
	m.ActiveRuns.WithLabelValues(kind).Inc()
	return func() { m.ActiveRuns.WithLabelValues(kind).Dec() }
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) QuotaRejected(kind string) {
	if m == nil {
		return
	}
	m.QuotaRejections.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
