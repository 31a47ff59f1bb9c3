package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder reports dispatcher metrics using Prometheus primitives.
type PrometheusRecorder struct {
	attempts   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	dispatches *prometheus.CounterVec
}

// NewPrometheusRecorder creates the collectors and registers them on registry.
func NewPrometheusRecorder(registry *prometheus.Registry) (*PrometheusRecorder, error) {
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry is nil")
	}

	r := &PrometheusRecorder{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfallback_attempts_total",
			Help: "Provider attempts by outcome",
		}, []string{"provider", "outcome", "transient"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmfallback_attempt_duration_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmfallback_dispatch_total",
			Help: "Dispatch calls by final status",
		}, []string{"status"}),
	}

	for _, collector := range []prometheus.Collector{r.attempts, r.durations, r.dispatches} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// ObserveAttempt counts an attempt. Latency is only observed for attempts
// that reached the provider.
func (r *PrometheusRecorder) ObserveAttempt(provider, outcome string, transient bool, duration time.Duration) {
	r.attempts.WithLabelValues(provider, outcome, strconv.FormatBool(transient)).Inc()
	if outcome != "unavailable" {
		r.durations.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// ObserveDispatch counts a finished dispatch call.
func (r *PrometheusRecorder) ObserveDispatch(status string) {
	r.dispatches.WithLabelValues(status).Inc()
}

// WriteTextfile writes the registry in the text exposition format, for
// node_exporter's textfile collector.
func WriteTextfile(path string, registry *prometheus.Registry) error {
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
