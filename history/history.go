// Package history records call outcomes in a bounded sliding window and
// derives the metrics the risk model consumes: recent failure rate,
// time-of-day factor, latency volatility, and last failure severity.
// It also keeps a small checkpoint store for caller-supplied recovery context.
package history

import (
	"math"
	"sync"
	"time"
)

// Kind classifies a recorded event.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Event is one completed call attempt. Severity is 0 for successes.
// HasDuration distinguishes "no duration recorded" from a zero duration.
type Event struct {
	At          time.Time
	Kind        Kind
	Severity    float64
	Duration    time.Duration
	HasDuration bool
}

// DefaultCapacity bounds the event window when no capacity is given.
const DefaultCapacity = 1000

// Default peak business hours for the time-of-day factor.
const (
	DefaultPeakStartHour = 8
	DefaultPeakEndHour   = 18
)

// Recorder is a fixed-capacity FIFO ring of events plus a checkpoint store.
// All methods are safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	buf         []Event
	next        int // index of the next write
	full        bool
	peakStart   int
	peakEnd     int
	checkpoints map[string]any
}

// NewRecorder creates a recorder holding at most capacity events.
// capacity <= 0 uses DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		buf:         make([]Event, 0, capacity),
		peakStart:   DefaultPeakStartHour,
		peakEnd:     DefaultPeakEndHour,
		checkpoints: make(map[string]any),
	}
}

// WithPeakHours overrides the local-time window treated as peak load by
// TimeOfDayFactor. The window is [start, end) in hours 0..24; start after
// end wraps midnight, e.g. (22, 6) covers 22:00-06:00. start == end
// disables the peak window entirely.
func (r *Recorder) WithPeakHours(start, end int) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peakStart = start
	r.peakEnd = end
	return r
}

// RecordSuccess appends a SUCCESS event with the call's duration.
func (r *Recorder) RecordSuccess(d time.Duration) {
	r.append(Event{At: time.Now(), Kind: KindSuccess, Duration: d, HasDuration: true})
}

// RecordFailure appends a FAILURE event with the given severity.
func (r *Recorder) RecordFailure(severity float64) {
	r.append(Event{At: time.Now(), Kind: KindFailure, Severity: severity})
}

// append inserts an event, evicting the oldest when the ring is full.
func (r *Recorder) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full && len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, e)
		if len(r.buf) == cap(r.buf) {
			r.full = true
		}
		return
	}
	// Overwrite the oldest slot.
	r.buf[r.next] = e
	r.next = (r.next + 1) % cap(r.buf)
}

// Len returns the number of events currently held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// RecentFailureRate returns the number of failures recorded within the
// window ending at now. The count, not a per-second ratio, is what the
// hazard model weighs: each fresh failure moves the score by a full
// FailureWeight step.
func (r *Recorder) RecentFailureRate(window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := range r.buf {
		if r.buf[i].Kind == KindFailure && !r.buf[i].At.Before(cutoff) {
			count++
		}
	}
	return float64(count)
}

// TimeOfDayFactor returns 1.2 during configured peak hours and 0.8 otherwise.
func (r *Recorder) TimeOfDayFactor(now time.Time) float64 {
	r.mu.Lock()
	start, end := r.peakStart, r.peakEnd
	r.mu.Unlock()

	hour := now.Local().Hour()
	peak := false
	switch {
	case start < end:
		peak = hour >= start && hour < end
	case start > end: // wraps midnight
		peak = hour >= start || hour < end
	}
	if peak {
		return 1.2
	}
	return 0.8
}

// LatencyVolatility returns the population standard deviation, in seconds,
// of successful-call durations within the window ending at now. Returns 0
// when no successful call with a duration falls inside the window.
func (r *Recorder) LatencyVolatility(window time.Duration, now time.Time) float64 {
	cutoff := now.Add(-window)

	r.mu.Lock()
	defer r.mu.Unlock()

	var durations []float64
	for i := range r.buf {
		e := &r.buf[i]
		if e.Kind == KindSuccess && e.HasDuration && !e.At.Before(cutoff) {
			durations = append(durations, e.Duration.Seconds())
		}
	}
	if len(durations) == 0 {
		return 0
	}

	var sum float64
	for _, d := range durations {
		sum += d
	}
	mean := sum / float64(len(durations))

	var sq float64
	for _, d := range durations {
		sq += (d - mean) * (d - mean)
	}
	return math.Sqrt(sq / float64(len(durations)))
}

// LastFailureSeverity returns the severity of the most recent failure,
// or 0 if no failure is in the window.
func (r *Recorder) LastFailureSeverity() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < len(r.buf); i++ {
		e := r.at(len(r.buf) - 1 - i)
		if e.Kind == KindFailure {
			return e.Severity
		}
	}
	return 0
}

// LastContext returns the most recently recorded event, if any. It feeds
// the correction hook with the context of the latest outcome.
func (r *Recorder) LastContext() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) == 0 {
		return Event{}, false
	}
	return *r.at(len(r.buf) - 1), true
}

// at returns the i-th event in insertion order (0 = oldest).
// Caller must hold r.mu.
func (r *Recorder) at(i int) *Event {
	if !r.full {
		return &r.buf[i]
	}
	return &r.buf[(r.next+i)%len(r.buf)]
}

// SaveCheckpoint stores opaque recovery context for an operation ID.
func (r *Recorder) SaveCheckpoint(opID string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[opID] = v
}

// Checkpoint returns the stored recovery context for an operation ID.
func (r *Recorder) Checkpoint(opID string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.checkpoints[opID]
	return v, ok
}
