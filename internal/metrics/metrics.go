// Package metrics exposes daemon counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	VerdictAllow = "allow"
	VerdictDeny  = "deny"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	watchedPaths prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fadcrypt_requests_total",
				Help: "Control requests handled, by command and result",
			},
			[]string{"command", "result"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fadcrypt_decisions_total",
				Help: "Access decisions written to the kernel, by verdict and reason",
			},
			[]string{"verdict", "reason"},
		),
		watchedPaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fadcrypt_watched_paths",
			Help: "Number of paths currently marked for access mediation",
		}),
	}
	reg.MustRegister(m.requests, m.decisions, m.watchedPaths)
	return m
}

func (m *Metrics) ObserveRequest(command string, success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.requests.WithLabelValues(command, result).Inc()
}

func (m *Metrics) ObserveDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	verdict := VerdictDeny
	if allowed {
		verdict = VerdictAllow
	}
	m.decisions.WithLabelValues(verdict, reason).Inc()
}

func (m *Metrics) SetWatched(n int) {
	if m == nil {
		return
	}
	m.watchedPaths.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}
