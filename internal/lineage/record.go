package lineage

import (
	"errors"
	"fmt"
	"time"
)

// Disposition is the terminal state of a lineage.
type Disposition string

const (
	// DispositionOpen marks a lineage still moving through the pipeline.
	DispositionOpen Disposition = "open"
	// DispositionAccepted marks a lineage that cleared deployment approval.
	DispositionAccepted Disposition = "accepted"
	// DispositionRejected marks a lineage that was vetoed or exhausted its
	// retry budget.
	DispositionRejected Disposition = "rejected"
)

// Attempt records a single pass of a task through the pipeline.
type Attempt struct {
	TaskID      string    `json:"task_id"`
	Number      int       `json:"number"`
	Outcome     string    `json:"outcome"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Record is the full refinement history of one task family.
type Record struct {
	LineageID   string      `json:"lineage_id"`
	Attempts    []Attempt   `json:"attempts"`
	Disposition Disposition `json:"disposition"`
	Reason      string      `json:"reason,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewRecord opens a record for a fresh lineage.
func NewRecord(lineageID string) Record {
	return Record{
		LineageID:   lineageID,
		Attempts:    []Attempt{},
		Disposition: DispositionOpen,
	}
}

// Terminal reports whether the lineage has reached a final disposition.
func (r Record) Terminal() bool {
	return r.Disposition == DispositionAccepted || r.Disposition == DispositionRejected
}

// AppendAttempt adds an attempt to the history. Attempts must arrive in
// order and a terminal record accepts no further attempts.
func (r *Record) AppendAttempt(a Attempt) error {
	if r.Terminal() {
		return fmt.Errorf("lineage %s is %s, no further attempts", r.LineageID, r.Disposition)
	}
	if n := len(r.Attempts); n > 0 && a.Number <= r.Attempts[n-1].Number {
		return fmt.Errorf("attempt %d out of order after %d", a.Number, r.Attempts[n-1].Number)
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}
	r.Attempts = append(r.Attempts, a)
	r.UpdatedAt = a.RecordedAt
	return nil
}

// Close marks the lineage terminal. Closing an already terminal record is
// an error so callers cannot flip a rejection into an acceptance.
func (r *Record) Close(d Disposition, reason string) error {
	if d != DispositionAccepted && d != DispositionRejected {
		return fmt.Errorf("disposition %q is not terminal", d)
	}
	if r.Terminal() {
		return fmt.Errorf("lineage %s already closed as %s", r.LineageID, r.Disposition)
	}
	r.Disposition = d
	r.Reason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate checks structural invariants before a record is persisted.
func (r Record) Validate() error {
	if r.LineageID == "" {
		return errors.New("lineage_id is required")
	}
	switch r.Disposition {
	case DispositionOpen, DispositionAccepted, DispositionRejected:
	default:
		return fmt.Errorf("unknown disposition %q", r.Disposition)
	}
	prev := 0
	for i, a := range r.Attempts {
		if a.TaskID == "" {
			return fmt.Errorf("attempt %d: task_id is required", i)
		}
		if a.Number <= prev {
			return fmt.Errorf("attempt %d: number %d out of order", i, a.Number)
		}
		prev = a.Number
	}
	return nil
}
