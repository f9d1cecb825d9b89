package orchestrator

import "fmt"

// State is a pipeline stage.
type State string

const (
	StateReceived           State = "received"
	StateArchitectureReview State = "architecture_review"
	StateEngineeringDraft   State = "engineering_draft"
	StateSandboxValidation  State = "sandbox_validation"
	StateRefining           State = "refining"
	StateDeploymentApproval State = "deployment_approval"
	StateAccepted           State = "accepted"
	StateRejected           State = "rejected"
)

// Terminal reports whether the state ends the pipeline.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}

var allowedTransitions = map[State]map[State]struct{}{
	StateReceived: {
		StateArchitectureReview: {},
		StateRejected:           {},
	},
	StateArchitectureReview: {
		StateEngineeringDraft: {},
		StateReceived:         {},
		StateRejected:         {},
	},
	StateEngineeringDraft: {
		StateSandboxValidation: {},
		StateRefining:          {},
		StateRejected:          {},
	},
	StateSandboxValidation: {
		StateDeploymentApproval: {},
		StateRefining:           {},
		StateRejected:           {},
	},
	StateRefining: {
		StateEngineeringDraft: {},
		StateRejected:         {},
	},
	StateDeploymentApproval: {
		StateAccepted:           {},
		StateArchitectureReview: {},
		StateRejected:           {},
	},
	StateAccepted: {},
	StateRejected: {},
}

// ValidateState rejects unknown states.
func ValidateState(s State) error {
	if _, ok := allowedTransitions[s]; !ok {
		return fmt.Errorf("invalid state: %q", s)
	}
	return nil
}

// ValidateTransition rejects transitions the pipeline does not allow.
func ValidateTransition(from, to State) error {
	if err := ValidateState(from); err != nil {
		return err
	}
	if err := ValidateState(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return nil
}
