package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rows       prometheus.Counter
	malformed  prometheus.Counter
	rateLimits prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feature_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feature_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feature_rows_computed_total",
			Help: "Application rows evaluated by /v1/features.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feature_malformed_requests_total",
			Help: "Requests rejected as malformed input.",
		}),
		rateLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feature_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.rows, m.malformed, m.rateLimits)
	return m
}
