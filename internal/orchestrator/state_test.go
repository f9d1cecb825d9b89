package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	valid := [][2]State{
		{StateReceived, StateArchitectureReview},
		{StateArchitectureReview, StateEngineeringDraft},
		{StateArchitectureReview, StateReceived},
		{StateEngineeringDraft, StateSandboxValidation},
		{StateEngineeringDraft, StateRefining},
		{StateSandboxValidation, StateDeploymentApproval},
		{StateSandboxValidation, StateRefining},
		{StateRefining, StateEngineeringDraft},
		{StateDeploymentApproval, StateAccepted},
		{StateDeploymentApproval, StateArchitectureReview},
		{StateDeploymentApproval, StateRejected},
	}
	for _, tr := range valid {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]State{
		{StateReceived, StateEngineeringDraft},
		{StateReceived, StateAccepted},
		{StateArchitectureReview, StateSandboxValidation},
		{StateSandboxValidation, StateEngineeringDraft},
		{StateRefining, StateSandboxValidation},
		{StateAccepted, StateRejected},
		{StateRejected, StateReceived},
	}
	for _, tr := range invalid {
		assert.Error(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestValidateState(t *testing.T) {
	assert.NoError(t, ValidateState(StateRefining))
	assert.Error(t, ValidateState(State("limbo")))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateAccepted.Terminal())
	assert.True(t, StateRejected.Terminal())
	assert.False(t, StateDeploymentApproval.Terminal())

	// Terminal states allow no further transitions.
	assert.Empty(t, allowedTransitions[StateAccepted])
	assert.Empty(t, allowedTransitions[StateRejected])
}
