// Package metrics exposes benchmark-level Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biasbench",
			Name:      "evaluations_total",
			Help:      "Total evaluations completed, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	providerCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "biasbench",
			Name:      "provider_call_seconds",
			Help:      "Provider call latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 60},
		},
		[]string{"provider"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biasbench",
			Name:      "runs_total",
			Help:      "Total benchmark runs finalized, partitioned by terminal status.",
		},
		[]string{"status"},
	)
)

// Register attaches the biasbench collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		providerCallSeconds,
		runsTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records one terminal evaluation.
func ObserveEvaluation(status string) {
	evaluationsTotal.WithLabelValues(status).Inc()
}

// ObserveProviderCall records a provider round-trip duration.
func ObserveProviderCall(provider string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	providerCallSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveRun records one finalized run.
func ObserveRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}
