package hazardbreaker

import (
	"fmt"
	"time"
)

// OpenCircuitError is the internal trip signal: the failure processor
// returns it in place of the original error when the refreshed risk score
// exceeds the threshold, and the manager forces an OPEN transition on
// seeing it, even mid-probe. Callers never observe it; every call resolves
// to a result, a mitigation value, or mitigation.ErrNoFallback.
type OpenCircuitError struct {
	Risk float64
	At   time.Time
}

func (e *OpenCircuitError) Error() string {
	return fmt.Sprintf("circuit open: risk %.2f exceeds threshold", e.Risk)
}
