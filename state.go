// Package hazardbreaker implements a hazard-driven circuit breaker: a
// protective wrapper that, per call, either runs the operation, rejects it,
// or serves a cached/fallback result, based on a continuously recomputed
// statistical risk score with closed → open → half-open recovery.
package hazardbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: calls flow through
	StateOpen                  // Tripped: calls are answered by mitigation
	StateHalfOpen              // Probing: one call allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hazardbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit breaker state transitions by from-state and to-state.",
	}, []string{"from_state", "to_state"})

	riskScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hazardbreaker",
		Name:      "risk_score",
		Help:      "Hazard scores computed at admission time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(stateTransitions, riskScores)
}
