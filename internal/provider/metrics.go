package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taleforge_provider_requests_total",
			Help: "Total number of provider invocations.",
		},
		[]string{"provider", "kind", "status"},
	)
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taleforge_provider_request_duration_seconds",
			Help:    "Histogram of provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "kind"},
	)
	providerFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taleforge_provider_fallbacks_total",
			Help: "Times the fallback provider was invoked after a primary failure.",
		},
		[]string{"kind"},
	)
)
