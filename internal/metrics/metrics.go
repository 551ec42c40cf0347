// Package metrics provides Prometheus instrumentation for the order relay.
// Collectors are registered once via Init and exposed through Handler for
// scraping.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total requests by route, method, and HTTP status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes request latency in seconds by route and method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// InFlight tracks the number of requests currently being processed.
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_in_flight_requests",
			Help: "Number of in-flight requests currently being processed",
		},
	)

	// RateLimitHits counts rate limit rejections by store algorithm.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"algorithm"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)

	// OriginDenials counts requests rejected by the strict origin policy.
	OriginDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_origin_denials_total",
			Help: "Total requests rejected by the origin policy",
		},
	)

	// UpstreamRequests counts upstream lookups by strategy and outcome
	// (an apierror code, or "ok").
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_upstream_requests_total",
			Help: "Total upstream order lookups",
		},
		[]string{"strategy", "outcome"},
	)

	// UpstreamDuration observes upstream call latency in seconds by strategy.
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)
)

var initOnce sync.Once

// Init registers all metric collectors with the default Prometheus registry.
// Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(collectors()...)
	})
}

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		InFlight,
		RateLimitHits,
		AuthFailures,
		OriginDenials,
		UpstreamRequests,
		UpstreamDuration,
	}
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
