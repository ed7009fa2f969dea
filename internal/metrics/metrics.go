package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
//
// All methods are safe on a nil *Metrics so components can run without it.
type Metrics struct {
	reg *prometheus.Registry

	Ticks          *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	Queries        *prometheus.CounterVec
	Registrations  *prometheus.CounterVec
	FetchDuration  *prometheus.HistogramVec
	Registered     prometheus.Gauge
	SchedulerState prometheus.Gauge
	LastAnnounced  prometheus.Gauge
}

// New creates the metrics on a dedicated registry, plus Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eurobot_poller_ticks_total",
			Help: "Scheduler ticks by outcome",
		}, []string{"outcome"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eurobot_fanout_deliveries_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eurobot_queries_total",
			Help: "On-demand checks by outcome",
		}, []string{"outcome"}),
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eurobot_registrations_total",
			Help: "Registration attempts by result",
		}, []string{"result"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eurobot_source_fetch_seconds",
			Help:    "Draw source fetch latency by outcome",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"outcome"}),
		Registered: f.NewGauge(prometheus.GaugeOpts{
			Name: "eurobot_registered_users",
			Help: "Registrations seen by the last fan-out",
		}),
		SchedulerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "eurobot_poller_checking",
			Help: "1 while a tick is checking, 0 while waiting",
		}),
		LastAnnounced: f.NewGauge(prometheus.GaugeOpts{
			Name: "eurobot_last_announced_timestamp_seconds",
			Help: "Unix time of the last announced draw date",
		}),
	}
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the Prometheus exposition for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncTick(outcome string) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddDeliveries(ok, failed, skipped int) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues("ok").Add(float64(ok))
	m.Deliveries.WithLabelValues("failed").Add(float64(failed))
	m.Deliveries.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) IncQuery(outcome string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRegistration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.Registered.Set(float64(n))
}

func (m *Metrics) SetChecking(checking bool) {
	if m == nil {
		return
	}
	if checking {
		m.SchedulerState.Set(1)
		return
	}
	m.SchedulerState.Set(0)
}

func (m *Metrics) SetLastAnnounced(t time.Time) {
	if m == nil || t.IsZero() {
		return
	}
	m.LastAnnounced.Set(float64(t.Unix()))
}
