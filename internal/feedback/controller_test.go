package feedback

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

type capturePublisher struct {
	topics []string
	data   [][]byte
}

func (p *capturePublisher) Publish(topic string, data []byte) error {
	p.topics = append(p.topics, topic)
	p.data = append(p.data, data)
	return nil
}

func newTestController(t *testing.T, maxAttempts int) (*Controller, *capturePublisher, lineage.Store) {
	t.Helper()
	pub := &capturePublisher{}
	store := lineage.NewMemoryStore()
	ctrl, err := NewController(Options{
		MaxAttempts: maxAttempts,
		Store:       store,
		Bus:         pub,
		Logger:      logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)
	return ctrl, pub, store
}

func TestController_AcceptOnSuccess(t *testing.T) {
	ctrl, pub, store := newTestController(t, 5)
	task := swarm.NewTask("build the parser")

	decision, err := ctrl.OnOutcome(context.Background(), task, sandbox.Success("abc123"))
	require.NoError(t, err)

	assert.Equal(t, ActionAccept, decision.Action)
	assert.Nil(t, decision.Next)
	assert.Empty(t, pub.topics)

	rec, err := store.Load(task.LineageID)
	require.NoError(t, err)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, "success", rec.Attempts[0].Outcome)
	assert.False(t, rec.Terminal())
}

func TestController_RefineOnLogicMismatch(t *testing.T) {
	ctrl, pub, store := newTestController(t, 5)
	task := swarm.NewTask("build the parser")
	outcome := sandbox.Failure(sandbox.LogicMismatch, []string{"expected 42 got 41"}, nil)

	decision, err := ctrl.OnOutcome(context.Background(), task, outcome)
	require.NoError(t, err)

	assert.Equal(t, ActionRefine, decision.Action)
	require.NotNil(t, decision.Next)
	assert.Equal(t, task.LineageID, decision.Next.LineageID)
	assert.Equal(t, task.ID, decision.Next.ParentID)
	assert.Equal(t, 2, decision.Next.Attempt)
	assert.Contains(t, decision.Next.Diagnostics, "expected 42 got 41")

	// The refined task went to the engineering queue.
	require.Len(t, pub.topics, 1)
	assert.Equal(t, "swarm.tasks.engineering", pub.topics[0])
	var queued swarm.Task
	require.NoError(t, json.Unmarshal(pub.data[0], &queued))
	assert.Equal(t, decision.Next.ID, queued.ID)

	rec, err := store.Load(task.LineageID)
	require.NoError(t, err)
	assert.False(t, rec.Terminal())
}

func TestController_RefineThenAccept(t *testing.T) {
	ctrl, _, store := newTestController(t, 5)
	task := swarm.NewTask("build the parser")

	decision, err := ctrl.OnOutcome(context.Background(), task,
		sandbox.Failure(sandbox.MissingDependency, []string{"missing dependency: numpy@1.26"}, []string{"numpy@1.26"}))
	require.NoError(t, err)
	require.Equal(t, ActionRefine, decision.Action)

	decision, err = ctrl.OnOutcome(context.Background(), *decision.Next, sandbox.Success("hash"))
	require.NoError(t, err)
	assert.Equal(t, ActionAccept, decision.Action)

	rec, err := store.Load(task.LineageID)
	require.NoError(t, err)
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, 1, rec.Attempts[0].Number)
	assert.Equal(t, 2, rec.Attempts[1].Number)
	assert.Equal(t, "success", rec.Attempts[1].Outcome)
}

func TestController_RejectOnSecurityViolation(t *testing.T) {
	ctrl, pub, store := newTestController(t, 5)
	task := swarm.NewTask("build the parser")

	decision, err := ctrl.OnOutcome(context.Background(), task,
		sandbox.Failure(sandbox.SecurityViolation, []string{"attempted outbound connection"}, nil))
	require.NoError(t, err)

	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, ReasonSecurityViolation, decision.Reason)
	assert.Empty(t, pub.topics)

	rec, err := store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionRejected, rec.Disposition)
	assert.Equal(t, ReasonSecurityViolation, rec.Reason)
}

func TestController_RetryBudgetExhausted(t *testing.T) {
	ctrl, pub, store := newTestController(t, 3)
	failure := sandbox.Failure(sandbox.LogicMismatch, []string{"off by one"}, nil)

	task := swarm.NewTask("build the parser")
	for i := 0; i < 2; i++ {
		decision, err := ctrl.OnOutcome(context.Background(), task, failure)
		require.NoError(t, err)
		require.Equal(t, ActionRefine, decision.Action)
		task = *decision.Next
	}

	// Third failure is the final attempt.
	decision, err := ctrl.OnOutcome(context.Background(), task, failure)
	require.NoError(t, err)
	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, ReasonRetryBudgetExhausted, decision.Reason)
	assert.Len(t, pub.topics, 2)

	rec, err := store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionRejected, rec.Disposition)
	require.Len(t, rec.Attempts, 3)
}

func TestController_TerminalLineageIsFrozen(t *testing.T) {
	ctrl, pub, _ := newTestController(t, 1)
	task := swarm.NewTask("build the parser")

	decision, err := ctrl.OnOutcome(context.Background(), task,
		sandbox.Failure(sandbox.Timeout, []string{"deadline exceeded"}, nil))
	require.NoError(t, err)
	require.Equal(t, ActionReject, decision.Action)

	// A straggler outcome for the closed lineage is dropped.
	decision, err = ctrl.OnOutcome(context.Background(), task, sandbox.Success("hash"))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, decision.Action)
	assert.Empty(t, pub.topics)
}

func TestController_Supersede(t *testing.T) {
	ctrl, pub, store := newTestController(t, 2)
	task := swarm.NewTask("build the parser")

	// Within budget: a successor carries the objections, nothing is
	// queued (the orchestrator re-enters the pipeline itself).
	decision, err := ctrl.Supersede(context.Background(), task, []string{"rollout plan missing"})
	require.NoError(t, err)
	require.Equal(t, ActionRefine, decision.Action)
	require.NotNil(t, decision.Next)
	assert.Equal(t, 2, decision.Next.Attempt)
	assert.Equal(t, task.LineageID, decision.Next.LineageID)
	assert.Contains(t, decision.Next.Diagnostics, "rollout plan missing")
	assert.Empty(t, pub.topics)

	// At the budget: the lineage is closed instead of superseded.
	decision, err = ctrl.Supersede(context.Background(), *decision.Next, []string{"rollout plan missing"})
	require.NoError(t, err)
	assert.Equal(t, ActionReject, decision.Action)
	assert.Equal(t, ReasonRetryBudgetExhausted, decision.Reason)

	rec, err := store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionRejected, rec.Disposition)

	// Terminal lineages are frozen.
	decision, err = ctrl.Supersede(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, decision.Action)
}

func TestController_Conclude(t *testing.T) {
	ctrl, _, store := newTestController(t, 5)

	require.NoError(t, ctrl.Conclude("lin-1", lineage.DispositionAccepted, "deployment approved"))

	rec, err := store.Load("lin-1")
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionAccepted, rec.Disposition)

	// Idempotent on terminal lineages.
	require.NoError(t, ctrl.Conclude("lin-1", lineage.DispositionRejected, "flip"))
	rec, err = store.Load("lin-1")
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionAccepted, rec.Disposition)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(sandbox.MissingDependency))
	assert.True(t, Recoverable(sandbox.LogicMismatch))
	assert.True(t, Recoverable(sandbox.Timeout))
	assert.False(t, Recoverable(sandbox.SecurityViolation))
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(Options{})
	assert.Error(t, err)

	_, err = NewController(Options{MaxAttempts: 5, Store: lineage.NewMemoryStore(), Bus: &capturePublisher{}})
	assert.ErrorContains(t, err, "logger")
}
