// Package metrics exposes prometheus collectors for resolutions and the
// HTTP endpoint. Collectors live on a private registry fed by resolver
// hooks.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zannhost/skiplink/resolver"
)

const namespace = "skiplink"

// Metrics holds the collectors
type Metrics struct {
	registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	inFlight     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of each resolution step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Resolution steps that failed.",
		}, []string{"step"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Finished resolutions by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resolutions_in_flight",
			Help:      "Resolutions currently running.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.stepDuration, m.stepFailures, m.resolutions, m.inFlight,
		m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns resolver hooks recording step timings and outcomes
func (m *Metrics) Hooks() resolver.Hooks {
	return resolver.Hooks{
		OnStepStart: func(e resolver.StepEvent) {
			if e.Step == resolver.StepLanding {
				m.inFlight.Inc()
			}
		},
		OnStepDone: func(e resolver.StepEvent) {
			m.stepDuration.WithLabelValues(e.Step.String()).Observe(e.Duration.Seconds())
			switch {
			case e.Err != nil:
				m.stepFailures.WithLabelValues(e.Step.String()).Inc()
				m.resolutions.WithLabelValues("failed_" + e.Step.String()).Inc()
				m.inFlight.Dec()
			case e.Step == resolver.StepGo:
				m.resolutions.WithLabelValues("ok").Inc()
				m.inFlight.Dec()
			}
		},
	}
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, method string, code int, seconds float64) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}
