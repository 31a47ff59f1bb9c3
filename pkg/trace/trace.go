package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a single provider attempt.
type Outcome string

const (
	// OutcomeServed means the provider produced the returned completion.
	OutcomeServed Outcome = "served"
	// OutcomeUnavailable means the provider was skipped without a call.
	OutcomeUnavailable Outcome = "unavailable"
	// OutcomeFailed means the provider was called and the call failed.
	OutcomeFailed Outcome = "failed"
)

// DispatchTrace captures every provider attempt made while serving one
// completion request.
type DispatchTrace struct {
	RequestID string        `json:"request_id"`
	Attempts  []Attempt     `json:"attempts"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	mu sync.Mutex
}

// Attempt records one provider's part in a dispatch.
type Attempt struct {
	Provider  string        `json:"provider"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Transient bool          `json:"transient,omitempty"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// New creates a DispatchTrace with a fresh request id and marks the start time.
func New() *DispatchTrace {
	return &DispatchTrace{
		RequestID: uuid.NewString(),
		StartTime: time.Now(),
	}
}

// AddAttempt appends an attempt record to the trace.
func (t *DispatchTrace) AddAttempt(a Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Attempts = append(t.Attempts, a)
}

// Finish marks the trace as complete and records the end time and duration.
func (t *DispatchTrace) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
	t.Duration = t.EndTime.Sub(t.StartTime)
}

// GetAttempts returns a copy of all recorded attempts.
func (t *DispatchTrace) GetAttempts() []Attempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Attempt, len(t.Attempts))
	copy(out, t.Attempts)
	return out
}

// Count returns the number of attempts with the given outcome.
func (t *DispatchTrace) Count(o Outcome) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.Attempts {
		if a.Outcome == o {
			n++
		}
	}
	return n
}
