package executor

import (
	"errors"
	"fmt"
	"time"
)

// Failure severities fed back into the risk model. A timeout is weaker
// evidence of unavailability than a hard failure.
const (
	SeverityTimeout = 0.5
	SeverityFailure = 1.0
)

// OperationError wraps an error (or recovered panic) raised by the
// protected operation itself.
type OperationError struct {
	Err error
}

func (e *OperationError) Error() string { return fmt.Sprintf("operation failed: %v", e.Err) }
func (e *OperationError) Unwrap() error { return e.Err }

// RejectedError reports that a call was abandoned before its operation
// started, e.g. the caller's context was cancelled while waiting for a
// worker slot. A rejection is not evidence the protected operation failed
// and must not feed the risk model.
type RejectedError struct {
	Err error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("operation rejected before start: %v", e.Err)
}
func (e *RejectedError) Unwrap() error { return e.Err }

// TimeoutError reports that a call exceeded its time budget and was
// abandoned.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation exceeded time budget of %s", e.Budget)
}

// MemoryBudgetError reports that a call's sampled allocations exceeded the
// configured memory budget.
type MemoryBudgetError struct {
	Budget   uint64
	Observed uint64
}

func (e *MemoryBudgetError) Error() string {
	return fmt.Sprintf("operation allocated %d bytes, exceeding budget of %d", e.Observed, e.Budget)
}

// Severity maps an execution failure to its risk-model severity.
func Severity(err error) float64 {
	var te *TimeoutError
	if errors.As(err, &te) {
		return SeverityTimeout
	}
	return SeverityFailure
}
