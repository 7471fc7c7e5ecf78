package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_Success(t *testing.T) {
	p := NewPool(2)

	v, dur, err := p.Run(context.Background(), func() (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(string) != "ok" {
		t.Fatalf("unexpected result: %v", v)
	}
	if dur < 5*time.Millisecond {
		t.Fatalf("duration should cover the call, got %s", dur)
	}
}

func TestRun_OperationError(t *testing.T) {
	p := NewPool(1)
	boom := errors.New("boom")

	_, _, err := p.Run(context.Background(), func() (any, error) {
		return nil, boom
	})

	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OperationError, got %T", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("expected wrapped original error")
	}
	if Severity(err) != SeverityFailure {
		t.Fatalf("expected severity 1.0, got %g", Severity(err))
	}
}

func TestRun_TimeBudget(t *testing.T) {
	p := NewPool(1).WithTimeBudget(20 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, _, err := p.Run(context.Background(), func() (any, error) {
		<-release
		return nil, nil
	})
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if Severity(err) != SeverityTimeout {
		t.Fatalf("expected timeout severity 0.5, got %g", Severity(err))
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("timed-out call should be abandoned promptly, waited %s", elapsed)
	}
}

var memSink []byte

func TestRun_MemoryBudget(t *testing.T) {
	p := NewPool(1).WithMemoryBudget(64 * 1024)

	_, _, err := p.Run(context.Background(), func() (any, error) {
		memSink = make([]byte, 8<<20)
		memSink[0] = 1
		return "done", nil
	})

	var me *MemoryBudgetError
	if !errors.As(err, &me) {
		t.Fatalf("expected *MemoryBudgetError, got %v", err)
	}
	if me.Observed <= me.Budget {
		t.Fatalf("observed %d should exceed budget %d", me.Observed, me.Budget)
	}
	if Severity(err) != SeverityFailure {
		t.Fatalf("expected severity 1.0, got %g", Severity(err))
	}
}

func TestRun_PanicRecovered(t *testing.T) {
	p := NewPool(1)

	_, _, err := p.Run(context.Background(), func() (any, error) {
		panic("kaboom")
	})

	var oe *OperationError
	if !errors.As(err, &oe) {
		t.Fatalf("expected *OperationError for panic, got %v", err)
	}
}

func TestRun_PoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)

	var running, peak atomic.Int32
	done := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _, _ = p.Run(context.Background(), func() (any, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if peak.Load() > 2 {
		t.Fatalf("pool admitted %d concurrent operations, want <= 2", peak.Load())
	}
}

func TestRun_ContextCancelledWhileQueued(t *testing.T) {
	p := NewPool(1)

	block := make(chan struct{})
	defer close(block)
	go p.Run(context.Background(), func() (any, error) { //nolint:errcheck
		<-block
		return nil, nil
	})
	time.Sleep(5 * time.Millisecond) // let the blocker take the only slot

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := p.Run(ctx, func() (any, error) { return nil, nil })

	// Abandoned before starting: a rejection, not an operation failure.
	var re *RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RejectedError, got %T", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

func TestRun_TimeBudgetCoversQueueWait(t *testing.T) {
	// An abandoned timed-out operation keeps its slot, but the next caller
	// must still be answered within its own budget, not block until the
	// slot frees.
	p := NewPool(1).WithTimeBudget(20 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	_, _, err := p.Run(context.Background(), func() (any, error) {
		<-release
		return nil, nil
	})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected first call to time out, got %v", err)
	}

	start := time.Now()
	_, _, err = p.Run(context.Background(), func() (any, error) { return nil, nil })
	elapsed := time.Since(start)

	if !errors.As(err, &te) {
		t.Fatalf("expected queued call to time out, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("queued call should fail within its budget, waited %s", elapsed)
	}
}

func TestDefaultWorkers(t *testing.T) {
	p := NewPool(0)
	if cap(p.slots) != DefaultWorkers {
		t.Fatalf("expected default pool of %d, got %d", DefaultWorkers, cap(p.slots))
	}
}
