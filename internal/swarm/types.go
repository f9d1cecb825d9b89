package swarm

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SquadName identifies one of the four fixed squads.
type SquadName string

const (
	SquadArchitecture SquadName = "architecture"
	SquadEngineering  SquadName = "engineering"
	SquadHealer       SquadName = "healer"
	SquadDeployment   SquadName = "deployment"
)

// AllSquads returns the squads in pipeline order.
func AllSquads() []SquadName {
	return []SquadName{SquadArchitecture, SquadEngineering, SquadHealer, SquadDeployment}
}

// Task is an immutable unit of work. A task is never mutated after creation;
// refinement supersedes it with a new task carrying an incremented attempt
// counter and the accumulated diagnostics.
type Task struct {
	ID          string    `json:"id"`
	LineageID   string    `json:"lineage_id"`
	Payload     string    `json:"payload"`
	OriginSquad SquadName `json:"origin_squad"`
	Attempt     int       `json:"attempt"`
	ParentID    string    `json:"parent_id,omitempty"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask creates the first task of a fresh lineage.
func NewTask(payload string) Task {
	id := uuid.New().String()
	return Task{
		ID:          id,
		LineageID:   id,
		Payload:     payload,
		OriginSquad: SquadArchitecture,
		Attempt:     1,
		CreatedAt:   time.Now(),
	}
}

// Refine derives the successor task for the same lineage: attempt counter
// incremented, diagnostics appended, payload augmented with the diagnostic
// context so the engineering squad sees what failed.
func (t Task) Refine(diagnostics []string) Task {
	diags := make([]string, 0, len(t.Diagnostics)+len(diagnostics))
	diags = append(diags, t.Diagnostics...)
	diags = append(diags, diagnostics...)

	return Task{
		ID:          uuid.New().String(),
		LineageID:   t.LineageID,
		Payload:     t.Payload,
		OriginSquad: SquadEngineering,
		Attempt:     t.Attempt + 1,
		ParentID:    t.ID,
		Diagnostics: diags,
		CreatedAt:   time.Now(),
	}
}

// Artifact is a candidate work product produced by the engineering squad and
// validated in the sandbox. Content is opaque to the core.
type Artifact struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id"`
	Content []byte `json:"content"`
}

// Severity ranks how serious a veto is. Vetoes below the configured blocking
// threshold are advisory: recorded but not gate-failing.
type Severity int

const (
	SeverityAdvisory Severity = iota
	SeverityBlocking
	SeverityCritical
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityAdvisory:
		return "advisory"
	case SeverityBlocking:
		return "blocking"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses a severity name as used in configuration.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "advisory":
		return SeverityAdvisory, nil
	case "blocking":
		return SeverityBlocking, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// VerdictKind discriminates the Verdict variants.
type VerdictKind string

const (
	VerdictApprove  VerdictKind = "approve"
	VerdictVeto     VerdictKind = "veto"
	VerdictDelegate VerdictKind = "delegate"
)

// Verdict is an agent's structured output for one task. Exactly one variant
// is populated, per Kind:
//
//   - VerdictApprove: Artifact may carry a produced work product
//   - VerdictVeto: Reason and Severity are set
//   - VerdictDelegate: SubTask is set
type Verdict struct {
	Kind     VerdictKind `json:"kind"`
	Role     Role        `json:"role"`
	TaskID   string      `json:"task_id"`
	Artifact *Artifact   `json:"artifact,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Severity Severity    `json:"severity,omitempty"`
	SubTask  *Task       `json:"sub_task,omitempty"`
	IssuedAt time.Time   `json:"issued_at"`
}

// Approve builds an approval verdict, optionally carrying an artifact.
func Approve(role Role, taskID string, artifact *Artifact) Verdict {
	return Verdict{
		Kind:     VerdictApprove,
		Role:     role,
		TaskID:   taskID,
		Artifact: artifact,
		IssuedAt: time.Now(),
	}
}

// Veto builds a veto verdict with the given reason and severity.
func Veto(role Role, taskID, reason string, severity Severity) Verdict {
	return Verdict{
		Kind:     VerdictVeto,
		Role:     role,
		TaskID:   taskID,
		Reason:   reason,
		Severity: severity,
		IssuedAt: time.Now(),
	}
}

// Delegate builds a delegation verdict carrying a sub-task.
func Delegate(role Role, taskID string, subTask Task) Verdict {
	return Verdict{
		Kind:     VerdictDelegate,
		Role:     role,
		TaskID:   taskID,
		SubTask:  &subTask,
		IssuedAt: time.Now(),
	}
}

// IsBlockingVeto reports whether v is a veto at or above the threshold.
func (v Verdict) IsBlockingVeto(threshold Severity) bool {
	return v.Kind == VerdictVeto && v.Severity >= threshold
}
