package hazardbreaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/hazardbreaker/audit"
	"github.com/mbd888/hazardbreaker/executor"
	"github.com/mbd888/hazardbreaker/history"
	"github.com/mbd888/hazardbreaker/mitigation"
	"github.com/mbd888/hazardbreaker/risk"
	"github.com/mbd888/hazardbreaker/traces"
)

// DefaultCooldown is the minimum time the circuit stays open before a
// recovery probe is considered.
const DefaultCooldown = 5 * time.Second

// Operation is a unit of work protected by the breaker.
type Operation func() (any, error)

// Correction is an extension point for operation-specific rollback or
// cleanup, invoked with the last recorded history event when the circuit
// trips. The default is a no-op.
type Correction func(last history.Event)

// Manager orchestrates admission, bounded execution, failure processing,
// and mitigation for one protected resource.
//
// One mutex serializes risk evaluation and state transitions; it is never
// held while the protected operation runs, so a hung operation cannot
// starve admission decisions for other callers.
type Manager struct {
	model      risk.Model
	hist       *history.Recorder
	mit        *mitigation.Mitigation
	pool       *executor.Pool
	auditLog   *audit.Log
	logger     *slog.Logger
	correction Correction
	cooldown   time.Duration

	timeBudget   time.Duration
	memoryBudget uint64

	mu             sync.Mutex
	state          State
	lastTransition time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCooldown sets how long the circuit stays open before probing.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

// WithTimeBudget bounds each protected call's wall time.
func WithTimeBudget(d time.Duration) Option {
	return func(m *Manager) { m.timeBudget = d }
}

// WithMemoryBudget bounds each protected call's sampled allocations, in bytes.
func WithMemoryBudget(n uint64) Option {
	return func(m *Manager) { m.memoryBudget = n }
}

// WithMitigation sets the fallback layer.
func WithMitigation(mit *mitigation.Mitigation) Option {
	return func(m *Manager) { m.mit = mit }
}

// WithAuditLog sets the audit sink. The default discards entries.
func WithAuditLog(l *audit.Log) Option {
	return func(m *Manager) { m.auditLog = l }
}

// WithHistory sets the event recorder, e.g. to change window capacity or
// peak hours.
func WithHistory(h *history.Recorder) Option {
	return func(m *Manager) { m.hist = h }
}

// WithPool sets the worker pool. Budgets set via WithTimeBudget and
// WithMemoryBudget are ignored when an explicit pool is supplied.
func WithPool(p *executor.Pool) Option {
	return func(m *Manager) { m.pool = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCorrection registers the cleanup hook invoked on trips.
func WithCorrection(c Correction) Option {
	return func(m *Manager) { m.correction = c }
}

// New creates a Manager in the closed state.
func New(model risk.Model, opts ...Option) *Manager {
	m := &Manager{
		model:    model,
		cooldown: DefaultCooldown,
		state:    StateClosed,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.hist == nil {
		m.hist = history.NewRecorder(0)
	}
	if m.mit == nil {
		m.mit = mitigation.New()
	}
	if m.auditLog == nil {
		m.auditLog = audit.New(io.Discard)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.pool == nil {
		m.pool = executor.NewPool(0).
			WithTimeBudget(m.timeBudget).
			WithMemoryBudget(m.memoryBudget)
	}
	m.lastTransition = time.Now()
	return m
}

// State returns the current circuit state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns the manager's event recorder, e.g. for checkpoints.
func (m *Manager) History() *history.Recorder {
	return m.hist
}

// Mitigation returns the manager's fallback layer.
func (m *Manager) Mitigation() *mitigation.Mitigation {
	return m.mit
}

// Execute runs op under the breaker's protection. key correlates the call
// with mitigation cache entries and audit details.
//
// The result is op's return value on success, otherwise a mitigation value.
// The only caller-visible failure is mitigation.ErrNoFallback, returned when
// the call could not run (or failed) and no fallback exists for key.
func (m *Manager) Execute(ctx context.Context, op Operation, key any) (any, error) {
	keyStr := fmt.Sprint(key)
	ctx, span := traces.StartSpan(ctx, "hazardbreaker.execute", traces.CallKey(keyStr))
	defer span.End()

	m.mu.Lock()
	now := time.Now()
	score := m.model.Evaluate(m.hist, now)
	riskScores.Observe(score)
	span.SetAttributes(traces.RiskScore(score), traces.CircuitState(m.state.String()))

	// Hard time gate: while open and cooling down, nothing runs and risk is
	// not reconsidered, so the protected resource gets an uninterrupted
	// recovery window. A half-open circuit already has its probe in flight.
	if (m.state == StateOpen && now.Sub(m.lastTransition) < m.cooldown) || m.state == StateHalfOpen {
		m.audit("BLOCK", map[string]string{"key": keyStr, "risk": formatRisk(score)})
		m.mu.Unlock()
		span.SetAttributes(traces.Outcome("blocked"))
		return m.mitigate(key, nil)
	}

	if score > m.model.Threshold() {
		if m.state == StateOpen {
			// Still too risky after cooldown: restart the recovery window.
			m.lastTransition = now
			m.audit("OPEN", map[string]string{"risk": formatRisk(score)})
		} else {
			m.transitionLocked(StateOpen, now, map[string]string{"risk": formatRisk(score)})
		}
		m.mu.Unlock()
		span.SetAttributes(traces.Outcome("rejected"))
		return m.mitigate(key, nil)
	}

	probe := false
	if m.state == StateOpen {
		// Cooldown elapsed and risk is acceptable: admit a single probe.
		m.transitionLocked(StateHalfOpen, now, map[string]string{"risk": formatRisk(score)})
		probe = true
	}
	m.mu.Unlock()

	result, dur, err := m.pool.Run(ctx, op)
	if err != nil {
		var re *executor.RejectedError
		if errors.As(err, &re) {
			// The caller gave up before the operation started. That says
			// nothing about the protected resource, so no failure is
			// recorded; an abandoned probe forfeits its recovery window.
			m.mu.Lock()
			if probe && m.state == StateHalfOpen {
				m.transitionLocked(StateOpen, time.Now(), map[string]string{"key": keyStr})
			}
			m.mu.Unlock()
			span.SetAttributes(traces.Outcome("rejected"))
			return m.mitigate(key, err)
		}

		ferr := m.processFailure(err, dur)

		m.mu.Lock()
		now = time.Now()
		var oce *OpenCircuitError
		if errors.As(ferr, &oce) {
			m.transitionLocked(StateOpen, now, map[string]string{"risk": formatRisk(oce.Risk)})
		} else if probe {
			// Probe failed outright: back to open for another cooldown.
			m.transitionLocked(StateOpen, now, map[string]string{"key": keyStr, "risk": formatRisk(score)})
		}
		m.mu.Unlock()

		span.SetAttributes(traces.Outcome("failed"))
		return m.mitigate(key, ferr)
	}

	m.mu.Lock()
	if m.state == StateHalfOpen {
		m.transitionLocked(StateClosed, time.Now(), map[string]string{"key": keyStr})
	}
	m.mu.Unlock()

	m.hist.RecordSuccess(dur)
	// Keep the safety net warm for future degraded periods.
	m.mit.Set(key, result)
	span.SetAttributes(traces.Outcome("success"))
	return result, nil
}

// processFailure records a failure, refreshes the risk score, and decides
// whether the circuit must trip. It returns an *OpenCircuitError in place
// of the original error when it does.
func (m *Manager) processFailure(err error, dur time.Duration) error {
	sev := executor.Severity(err)
	m.audit("ERROR", map[string]string{
		"error":    err.Error(),
		"severity": strconv.FormatFloat(sev, 'f', 1, 64),
		"duration": strconv.FormatFloat(dur.Seconds(), 'f', 3, 64),
	})
	m.hist.RecordFailure(sev)

	now := time.Now()
	score := m.model.Evaluate(m.hist, now)
	if score <= m.model.Threshold() {
		return err
	}

	m.audit("TRIP", map[string]string{"risk": formatRisk(score)})
	m.logger.Warn("circuit tripped",
		"risk", score,
		"threshold", m.model.Threshold(),
		"error", err)
	if m.correction != nil {
		if last, ok := m.hist.LastContext(); ok {
			m.correction(last)
		}
	}
	return &OpenCircuitError{Risk: score, At: now}
}

// mitigate resolves a degraded-mode answer. cause, when set, is the
// operation failure that led here; it is attached to the ErrNoFallback
// error for diagnosis but never surfaced on its own.
func (m *Manager) mitigate(key any, cause error) (any, error) {
	v, err := m.mit.Apply(key)
	if err != nil {
		if cause != nil {
			return nil, fmt.Errorf("%w (last error: %v)", mitigation.ErrNoFallback, cause)
		}
		return nil, err
	}
	return v, nil
}

// transitionLocked changes state, stamps the transition time, bumps the
// transition counter, and audits the new state. Caller must hold m.mu.
func (m *Manager) transitionLocked(to State, now time.Time, details map[string]string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.lastTransition = now
	stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.audit(auditEventFor(to), details)
	m.logger.Debug("circuit state changed", "from", from, "to", to)
}

// audit appends an entry, downgrading sink errors to a log line so audit
// I/O trouble never fails the protected call.
func (m *Manager) audit(event string, details map[string]string) {
	if err := m.auditLog.Append(event, details); err != nil {
		m.logger.Warn("audit append failed", "event", event, "error", err)
	}
}

func auditEventFor(s State) string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

func formatRisk(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}
