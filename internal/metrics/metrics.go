// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the gateway's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	SearchesTotal    prometheus.Counter
	SearchesFailed   prometheus.Counter
	SearchesDegraded prometheus.Counter
	ScreeningsTotal  *prometheus.CounterVec
	ExportsTotal     *prometheus.CounterVec
	BackendLatency   prometheus.Histogram
}

// NewCollector creates and registers all gateway metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		SearchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_searches_total",
			Help: "Total number of search submissions",
		}),
		SearchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_searches_failed_total",
			Help: "Search submissions that failed after fallback",
		}),
		SearchesDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_searches_degraded_total",
			Help: "Search submissions that succeeded only after dropping a database",
		}),
		ScreeningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_screenings_total",
			Help: "Screening runs by mode",
		}, []string{"mode"}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_exports_total",
			Help: "Project exports by format",
		}, []string{"format"}),
		BackendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_backend_request_duration_seconds",
			Help:    "Latency of compute backend requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	registry.MustRegister(
		c.SearchesTotal,
		c.SearchesFailed,
		c.SearchesDegraded,
		c.ScreeningsTotal,
		c.ExportsTotal,
		c.BackendLatency,
	)

	return c
}

// Handler returns a gin handler serving the metrics endpoint.
func (c *Collector) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return func(ctx *gin.Context) {
		h.ServeHTTP(ctx.Writer, ctx.Request)
	}
}
