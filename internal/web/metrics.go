package web

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics records per-route request counts and latencies.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics registers the HTTP collectors with registerer.
func NewHTTPMetrics(registerer prometheus.Registerer) (*HTTPMetrics, error) {
	metrics := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitauth_http_requests_total",
			Help: "Total HTTP requests by method, route, and response status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fitauth_http_request_duration_seconds",
			Help:    "Request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitauth_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
	}
	for _, collector := range []prometheus.Collector{metrics.requests, metrics.duration, metrics.inFlight} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// Middleware observes every request after the handler chain completes.
func (metrics *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		start := time.Now()
		metrics.inFlight.Inc()
		defer metrics.inFlight.Dec()

		contextGin.Next()

		route := contextGin.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := contextGin.Request.Method
		metrics.requests.WithLabelValues(method, route, strconv.Itoa(contextGin.Writer.Status())).Inc()
		metrics.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the gatherer in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return func(contextGin *gin.Context) {
		handler.ServeHTTP(contextGin.Writer, contextGin.Request)
	}
}
