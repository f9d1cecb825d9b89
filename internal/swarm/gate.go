package swarm

import (
	"fmt"
	"strings"
)

// ConsensusGate is the per-squad aggregation rule: a task's output may only
// progress when the squad produced zero vetoes at or above the blocking
// threshold and at least Quorum approvals.
type ConsensusGate struct {
	// Quorum is the number of approvals required. Zero means every member
	// of the squad must approve.
	Quorum int

	// BlockingThreshold is the minimum veto severity that fails the gate.
	BlockingThreshold Severity
}

// GateResult is the outcome of one gate evaluation.
type GateResult struct {
	Passed      bool
	Approvals   int
	Vetoes      []Verdict // blocking vetoes only
	Advisories  []Verdict // vetoes below the threshold
	Delegations []Verdict
}

// Objections renders the blocking vetoes for diagnostics.
func (r GateResult) Objections() []string {
	objections := make([]string, 0, len(r.Vetoes))
	for _, v := range r.Vetoes {
		objections = append(objections, fmt.Sprintf("[%s/%s] %s", v.Role, v.Severity, v.Reason))
	}
	return objections
}

// String summarizes the result for logs and errors.
func (r GateResult) String() string {
	if r.Passed {
		return fmt.Sprintf("passed (%d approvals)", r.Approvals)
	}
	return fmt.Sprintf("failed (%d approvals): %s", r.Approvals, strings.Join(r.Objections(), "; "))
}

// Evaluate aggregates a full squad's verdicts. All verdicts must be gathered
// before calling; the gate never decides on a partial set.
func (g ConsensusGate) Evaluate(verdicts []Verdict) GateResult {
	result := GateResult{}

	for _, v := range verdicts {
		switch v.Kind {
		case VerdictApprove:
			result.Approvals++
		case VerdictVeto:
			if v.Severity >= g.BlockingThreshold {
				result.Vetoes = append(result.Vetoes, v)
			} else {
				result.Advisories = append(result.Advisories, v)
			}
		case VerdictDelegate:
			result.Delegations = append(result.Delegations, v)
		}
	}

	quorum := g.Quorum
	if quorum <= 0 {
		quorum = len(verdicts)
	}

	result.Passed = len(result.Vetoes) == 0 && result.Approvals >= quorum
	return result
}

// FirstArtifact returns the first artifact among approval verdicts, or nil.
// The engineering squad's producing member attaches the candidate artifact
// to its approval.
func FirstArtifact(verdicts []Verdict) *Artifact {
	for _, v := range verdicts {
		if v.Kind == VerdictApprove && v.Artifact != nil {
			return v.Artifact
		}
	}
	return nil
}
