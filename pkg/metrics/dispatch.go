package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics records per-attempt outcomes of the broadcast dispatcher.
type DispatchMetrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewDispatchMetrics registers dispatch metrics on the provided registerer.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Delivery attempts by recorded outcome.",
	}, []string{"outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_send_duration_seconds",
		Help:    "Duration of a single transport send in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(attempts, duration)
	return &DispatchMetrics{
		attempts: attempts,
		duration: duration,
	}
}

// ObserveAttempt records one attempt with its outcome and transport duration.
func (d *DispatchMetrics) ObserveAttempt(outcome string, duration time.Duration) {
	if d == nil || d.attempts == nil {
		return
	}
	label := normalizeLabel(outcome)
	d.attempts.WithLabelValues(label).Inc()
	d.duration.WithLabelValues(label).Observe(duration.Seconds())
}
