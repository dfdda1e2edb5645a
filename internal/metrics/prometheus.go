package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through a dedicated registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	dueLinks      prometheus.Gauge
	pings         *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	pingLatency   prometheus.Histogram
	linksCreated  prometheus.Counter
	linksDeleted  prometheus.Counter
	creditDebited prometheus.Counter
	creditAdded   prometheus.Counter
	subscriptions *prometheus.CounterVec
	pruned        prometheus.Counter
}

// NewPrometheus returns a Recorder backed by a fresh registry that also
// carries the Go runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_ticks_total", Help: "Scheduler ticks executed",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "scheduler_tick_duration_seconds", Help: "Duration of one scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
		dueLinks: f.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_due_links", Help: "Links found due in the last tick",
		}),
		pings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pings_completed_total", Help: "Committed probes by outcome",
		}, []string{"outcome"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pings_skipped_total", Help: "Due links not probed or not committed, by reason",
		}, []string{"reason"}),
		pingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name: "ping_latency_seconds", Help: "Probe round-trip latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		linksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "links_created_total", Help: "Links registered",
		}),
		linksDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "links_deleted_total", Help: "Links deleted",
		}),
		creditDebited: f.NewCounter(prometheus.CounterOpts{
			Name: "credit_debited_minutes_total", Help: "Credit minutes consumed by probes",
		}),
		creditAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "credit_added_minutes_total", Help: "Credit minutes added by top-ups and grants",
		}),
		subscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "subscription_transitions_total", Help: "Subscription transitions by action",
		}, []string{"action"}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Name: "pings_pruned_total", Help: "Ping records removed by retention",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) ObserveTick(duration time.Duration, due int) {
	p.ticks.Inc()
	p.tickDuration.Observe(duration.Seconds())
	p.dueLinks.Set(float64(due))
}

func (p *PrometheusRecorder) IncPingCompleted(outcome string) {
	p.pings.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncPingSkipped(reason string) {
	p.skipped.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) ObservePingLatency(duration time.Duration) {
	p.pingLatency.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncLinkCreated() { p.linksCreated.Inc() }

func (p *PrometheusRecorder) IncLinkDeleted() { p.linksDeleted.Inc() }

func (p *PrometheusRecorder) AddCreditDebited(amount int64) {
	p.creditDebited.Add(float64(amount))
}

func (p *PrometheusRecorder) AddCreditAdded(amount int64) {
	p.creditAdded.Add(float64(amount))
}

func (p *PrometheusRecorder) IncSubscriptionTransition(action string) {
	p.subscriptions.WithLabelValues(action).Inc()
}

func (p *PrometheusRecorder) AddPingsPruned(count int64) {
	p.pruned.Add(float64(count))
}
