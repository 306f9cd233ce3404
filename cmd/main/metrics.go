package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application collectors. Each server cycle gets its own
// registry so a restart does not register collectors twice.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	registrations    prometheus.Counter
	logins           *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	emails           *prometheus.CounterVec
	projects         *prometheus.CounterVec
	rateLimited      prometheus.Counter
}

// NewMetrics registers every collector. projectCount, when not nil, backs a
// gauge of the stored projects.
func NewMetrics(projectCount func(context.Context) (int64, error)) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webgen_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webgen_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "webgen_registrations_total",
			Help: "Accounts created through the sign-up form.",
		}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webgen_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		otpVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webgen_otp_verifications_total",
			Help: "Verification code submissions by result.",
		}, []string{"result"}),
		emails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webgen_emails_total",
			Help: "Outgoing emails by template and result.",
		}, []string{"template", "result"}),
		projects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "webgen_projects_generated_total",
			Help: "Generated projects by archetype.",
		}, []string{"kind"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "webgen_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}

	if projectCount != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "webgen_projects_stored",
			Help: "Projects currently stored.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := projectCount(ctx)
			if err != nil {
				return 0
			}
			return float64(n)
		})
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Instrument counts requests and observes their latency.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.requests,
		promhttp.InstrumentHandlerDuration(m.requestDuration, next))
}

// RateLimited is called by the rate limiter for every rejected request.
func (m *Metrics) RateLimited(*http.Request) {
	m.rateLimited.Inc()
}
