package authkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricAuthLoginSuccess   = "auth.login.success"
	metricAuthLoginFailure   = "auth.login.failure"
	metricAuthRefreshSuccess = "auth.refresh.success"
	metricAuthRefreshFailure = "auth.refresh.failure"
	metricAuthVerifySuccess  = "auth.verify.success"
	metricAuthVerifyFailure  = "auth.verify.failure"
	metricLinkSuccess        = "link.fitness.success"
	metricLinkFailure        = "link.fitness.failure"
	metricProfileSyncSuccess = "profile.sync.success"
	metricProfileSyncFailure = "profile.sync.failure"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// PrometheusMetrics exports auth events as a labelled Prometheus counter.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the auth event counter with the registerer.
func NewPrometheusMetrics(registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fitauth_events_total",
		Help: "Total auth gateway events by outcome.",
	}, []string{"event"})
	if err := registerer.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusMetrics{events: events}, nil
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}
