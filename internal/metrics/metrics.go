package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leadhero/pkg/admission"
)

// Metrics owns a private registry so tests can build independent instances.
type Metrics struct {
	registry     *prometheus.Registry
	admissions   *prometheus.CounterVec
	generations  *prometheus.CounterVec
	counterDrift prometheus.Counter
	rateLimited  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadhero_admissions_total",
			Help: "Lead submissions by admission path and outcome.",
		}, []string{"role", "outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadhero_generations_total",
			Help: "Result generations by format and status.",
		}, []string{"format", "status"}),
		counterDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadhero_counter_drift_total",
			Help: "Accepted leads whose form counter increment failed.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadhero_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.admissions,
		m.generations,
		m.counterDrift,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var _ admission.Observer = (*Metrics)(nil)

// Admitted implements admission.Observer.
func (m *Metrics) Admitted(role admission.Role, outcome string) {
	m.admissions.WithLabelValues(role.String(), outcome).Inc()
}

// CounterDrift implements admission.Observer.
func (m *Metrics) CounterDrift(string) {
	m.counterDrift.Inc()
}

func (m *Metrics) Generated(format, status string) {
	m.generations.WithLabelValues(format, status).Inc()
}

func (m *Metrics) RateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
