// Package observability holds the Prometheus metrics of the dispatch path.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aigateway/internal/core"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_provider_attempts_total",
		Help: "Provider call attempts by outcome",
	}, []string{"provider", "feature", "result"})

	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aigateway_provider_attempt_duration_seconds",
		Help:    "Latency of provider call attempts",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"provider", "feature"})

	failureStreak = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aigateway_provider_failure_streak",
		Help: "Consecutive failures per provider and feature as seen by this instance",
	}, []string{"provider", "feature"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_requests_total",
		Help: "Logical requests by outcome",
	}, []string{"feature", "outcome"})
)

// Request outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeDegraded      = "degraded"
	OutcomeForcedFailure = "forced_failure"
)

// ObserveAttempt records one provider attempt. errType is empty on success.
func ObserveAttempt(p core.ProviderID, f core.Feature, latency time.Duration, errType core.ErrorType) {
	result := "success"
	switch {
	case errType == core.ErrorTypeConfiguration:
		result = "unconfigured"
	case errType == core.ErrorTypeCancelled:
		result = "cancelled"
	case errType != "":
		result = "failure"
	}
	attemptsTotal.WithLabelValues(string(p), string(f), result).Inc()
	attemptDuration.WithLabelValues(string(p), string(f)).Observe(latency.Seconds())
}

// SetStreak publishes the current failure streak of a pair.
func SetStreak(p core.ProviderID, f core.Feature, streak int) {
	failureStreak.WithLabelValues(string(p), string(f)).Set(float64(streak))
}

// ObserveRequest records the outcome of one logical request.
func ObserveRequest(f core.Feature, outcome string) {
	requestsTotal.WithLabelValues(string(f), outcome).Inc()
}
