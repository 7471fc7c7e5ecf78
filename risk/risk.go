// Package risk scores the hazard of running the next call.
//
// The stock model is a softplus-transformed linear combination of 4 weighted
// features drawn from the call history: recent failure rate, a time-of-day
// multiplier, latency volatility, and the last failure's severity. Scores are
// smooth, strictly positive, and unbounded above, so sustained severe failure
// streaks keep raising the score instead of saturating.
package risk

import (
	"math"
	"time"
)

// Feature windows for the stock model.
const (
	FailureRateWindow = 60 * time.Second
	VolatilityWindow  = 300 * time.Second
)

// DefaultThreshold is used when a non-positive threshold is configured.
const DefaultThreshold = 1.0

// View is the read-only slice of the call history a model consumes.
// *history.Recorder satisfies it.
type View interface {
	RecentFailureRate(window time.Duration, now time.Time) float64
	TimeOfDayFactor(now time.Time) float64
	LatencyVolatility(window time.Duration, now time.Time) float64
	LastFailureSeverity() float64
}

// Model is the swappable risk policy consulted before every admission.
type Model interface {
	// Evaluate returns the hazard score for the history as of now.
	Evaluate(view View, now time.Time) float64
	// Threshold is the score above which the circuit trips.
	Threshold() float64
}

// Params are the weights of the stock hazard model. Immutable once a model
// is built; construct a new breaker to change policy so evaluation never
// races a policy swap.
type Params struct {
	Base             float64
	FailureWeight    float64
	SeasonalWeight   float64
	VolatilityWeight float64
	SeverityWeight   float64
	Threshold        float64
}

// HazardModel is the stock softplus linear model.
type HazardModel struct {
	params Params
}

// NewHazardModel builds the stock model. Threshold <= 0 uses DefaultThreshold.
func NewHazardModel(params Params) *HazardModel {
	if params.Threshold <= 0 {
		params.Threshold = DefaultThreshold
	}
	return &HazardModel{params: params}
}

// Params returns a copy of the model's weights.
func (m *HazardModel) Params() Params { return m.params }

// Threshold returns the trip threshold.
func (m *HazardModel) Threshold() float64 { return m.params.Threshold }

// Evaluate computes softplus(base + w1*failureRate + w2*timeOfDay +
// w3*volatility + w4*lastSeverity).
func (m *HazardModel) Evaluate(view View, now time.Time) float64 {
	raw := m.params.Base +
		m.params.FailureWeight*view.RecentFailureRate(FailureRateWindow, now) +
		m.params.SeasonalWeight*view.TimeOfDayFactor(now) +
		m.params.VolatilityWeight*view.LatencyVolatility(VolatilityWindow, now) +
		m.params.SeverityWeight*view.LastFailureSeverity()
	return Softplus(raw)
}

// Softplus returns ln(1+e^x) using the overflow-safe formulation
// max(x,0) + log1p(e^-|x|), finite for any finite input.
func Softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}
