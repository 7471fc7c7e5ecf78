// Package executor runs protected operations on a small fixed worker pool
// under optional time and memory budgets, converting overruns into typed
// failures the risk model can weigh.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultWorkers is the pool size when none is configured. Execution
// concurrency is deliberately decoupled from caller concurrency.
const DefaultWorkers = 4

var (
	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hazardbreaker",
		Subsystem: "executor",
		Name:      "in_flight",
		Help:      "Operations currently running on the worker pool.",
	})

	timeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hazardbreaker",
		Subsystem: "executor",
		Name:      "timeouts_total",
		Help:      "Operations abandoned after exceeding their time budget.",
	})
)

func init() {
	prometheus.MustRegister(inFlight, timeoutsTotal)
}

// Pool executes operations on a bounded number of workers.
type Pool struct {
	slots        chan struct{}
	timeBudget   time.Duration // 0 = unlimited
	memoryBudget uint64        // bytes, 0 = unlimited
}

// NewPool creates a pool with the given number of workers.
// workers <= 0 uses DefaultWorkers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{slots: make(chan struct{}, workers)}
}

// WithTimeBudget sets the per-call time budget and returns the pool.
func (p *Pool) WithTimeBudget(d time.Duration) *Pool {
	p.timeBudget = d
	return p
}

// WithMemoryBudget sets the per-call allocation budget in bytes and returns
// the pool.
func (p *Pool) WithMemoryBudget(n uint64) *Pool {
	p.memoryBudget = n
	return p
}

type outcome struct {
	value     any
	err       error
	allocated uint64
}

// Run executes op on a pool worker and returns its result and wall duration.
//
// A call that exceeds the time budget is abandoned: Run returns a
// *TimeoutError but the operation may keep running detached until it
// finishes, holding its worker slot for that long. Callers needing true
// cancellation must make op cooperatively cancellable via ctx.
func (p *Pool) Run(ctx context.Context, op func() (any, error)) (any, time.Duration, error) {
	start := time.Now()

	// The budget covers the whole call, queue wait included, so a pool
	// whose slots are held by abandoned operations still answers every
	// caller within the budget.
	var timeout <-chan time.Time
	if p.timeBudget > 0 {
		t := time.NewTimer(p.timeBudget)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case p.slots <- struct{}{}:
	case <-timeout:
		timeoutsTotal.Inc()
		return nil, time.Since(start), &TimeoutError{Budget: p.timeBudget}
	case <-ctx.Done():
		return nil, time.Since(start), &RejectedError{Err: ctx.Err()}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() { <-p.slots }()
		inFlight.Inc()
		defer inFlight.Dec()

		var before runtime.MemStats
		if p.memoryBudget > 0 {
			runtime.ReadMemStats(&before)
		}

		var out outcome
		func() {
			defer func() {
				if r := recover(); r != nil {
					out.err = &OperationError{Err: fmt.Errorf("operation panicked: %v", r)}
				}
			}()
			out.value, out.err = op()
		}()

		if p.memoryBudget > 0 {
			var after runtime.MemStats
			runtime.ReadMemStats(&after)
			// Process-wide allocation delta: a best-effort sample, not an
			// exact per-call attribution.
			out.allocated = after.TotalAlloc - before.TotalAlloc
		}
		done <- out
	}()

	select {
	case out := <-done:
		dur := time.Since(start)
		if out.err != nil {
			if _, ok := out.err.(*OperationError); ok {
				return nil, dur, out.err
			}
			return nil, dur, &OperationError{Err: out.err}
		}
		if p.memoryBudget > 0 && out.allocated > p.memoryBudget {
			return nil, dur, &MemoryBudgetError{Budget: p.memoryBudget, Observed: out.allocated}
		}
		return out.value, dur, nil
	case <-timeout:
		timeoutsTotal.Inc()
		return nil, time.Since(start), &TimeoutError{Budget: p.timeBudget}
	case <-ctx.Done():
		return nil, time.Since(start), &OperationError{Err: ctx.Err()}
	}
}
