//go:build !windows

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/swarmd/internal/feedback"
	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

type nullPublisher struct{}

func (nullPublisher) Publish(string, []byte) error { return nil }

// approveStrategy approves without an artifact.
func approveStrategy(role swarm.Role) swarm.Agent {
	return swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
		return swarm.Approve(role, task.ID, nil), nil
	})
}

// harness wires a full pipeline with overridable agent strategies.
type harness struct {
	orch     *Orchestrator
	store    lineage.Store
	resolver *sandbox.TableResolver
}

func newHarness(t *testing.T, maxAttempts, archRetries int, overrides map[swarm.Role]swarm.Agent) *harness {
	t.Helper()

	agents := make(map[swarm.Role]swarm.Agent)
	for _, role := range swarm.AllRoles() {
		if a, ok := overrides[role]; ok {
			agents[role] = a
		} else {
			agents[role] = approveStrategy(role)
		}
	}
	registry, err := swarm.NewRegistry(agents)
	require.NoError(t, err)

	logger := logging.NewTestLogger().Logger
	timeouts := swarm.Timeouts{Default: 5 * time.Second}
	squads := make(map[swarm.SquadName]*swarm.Squad)
	for _, name := range swarm.AllSquads() {
		squad, err := swarm.NewSquad(name, registry, timeouts, nullPublisher{}, logger)
		require.NoError(t, err)
		squads[name] = squad
	}

	resolver := sandbox.NewTableResolver()
	executor, err := sandbox.NewExecutor(sandbox.Options{
		WorkRoot:   t.TempDir(),
		RunTimeout: 5 * time.Second,
		Resolver:   resolver,
		Logger:     logger,
	})
	require.NoError(t, err)

	store := lineage.NewMemoryStore()
	controller, err := feedback.NewController(feedback.Options{
		MaxAttempts: maxAttempts,
		Store:       store,
		Bus:         nullPublisher{},
		Logger:      logger,
	})
	require.NoError(t, err)

	orch, err := New(Options{
		Squads:                 squads,
		Gate:                   swarm.ConsensusGate{BlockingThreshold: swarm.SeverityBlocking},
		Executor:               executor,
		Controller:             controller,
		MaxArchitectureRetries: archRetries,
		Logger:                 logger,
	})
	require.NoError(t, err)

	return &harness{orch: orch, store: store, resolver: resolver}
}

// scriptEngineer returns an engineering strategy producing a shell artifact
// chosen per attempt.
func scriptEngineer(script func(attempt int) string) swarm.Agent {
	return swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
		artifact := &swarm.Artifact{
			ID:      "artifact-" + task.ID,
			TaskID:  task.ID,
			Content: []byte(script(task.Attempt)),
		}
		return swarm.Approve(swarm.RoleBackendEngineer, task.ID, artifact), nil
	})
}

func TestOrchestrator_AcceptPath(t *testing.T) {
	h := newHarness(t, 5, 2, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(int) string { return "exit 0\n" }),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, result.ArtifactHash, 64)
	assert.Equal(t, "noop", result.Repository.Provider)
	assert.Equal(t, []State{
		StateReceived, StateArchitectureReview, StateEngineeringDraft,
		StateSandboxValidation, StateDeploymentApproval, StateAccepted,
	}, result.History)

	rec, err := h.store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionAccepted, rec.Disposition)
}

func TestOrchestrator_RefineThenAccept(t *testing.T) {
	h := newHarness(t, 5, 2, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(attempt int) string {
			if attempt == 1 {
				return "echo expected 42 got 41\nexit 1\n"
			}
			return "exit 0\n"
		}),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Contains(t, result.History, StateRefining)

	rec, err := h.store.Load(task.LineageID)
	require.NoError(t, err)
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, "logic_mismatch", rec.Attempts[0].Outcome)
	assert.Equal(t, "success", rec.Attempts[1].Outcome)
}

func TestOrchestrator_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, 2, 2, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(int) string { return "exit 1\n" }),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, feedback.ReasonRetryBudgetExhausted, result.Reason)
	assert.Equal(t, 2, result.Attempts)

	rec, err := h.store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionRejected, rec.Disposition)
	assert.Len(t, rec.Attempts, 2)
}

func TestOrchestrator_SecurityOverride(t *testing.T) {
	// The auditor's critical veto rejects even though the rest of the
	// deployment squad approves and quorum would otherwise be met.
	h := newHarness(t, 5, 2, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(int) string { return "exit 0\n" }),
		swarm.RoleSecurityAuditor: swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
			return swarm.Veto(swarm.RoleSecurityAuditor, task.ID, "hardcoded credentials", swarm.SeverityCritical), nil
		}),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateRejected, result.State)
	assert.Contains(t, result.Reason, ReasonSecurityOverride)
	assert.Contains(t, result.Reason, "hardcoded credentials")

	rec, err := h.store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionRejected, rec.Disposition)
}

func TestOrchestrator_ArchitectureRejection(t *testing.T) {
	var evaluations atomic.Int32
	h := newHarness(t, 5, 1, map[swarm.Role]swarm.Agent{
		swarm.RoleSystemArchitect: swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
			evaluations.Add(1)
			return swarm.Veto(swarm.RoleSystemArchitect, task.ID, "unbounded scope", swarm.SeverityBlocking), nil
		}),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, ReasonArchitectureRejected, result.Reason)
	// One initial review plus one bounded retry.
	assert.Equal(t, int32(2), evaluations.Load())
	assert.Equal(t, []State{
		StateReceived, StateArchitectureReview,
		StateReceived, StateArchitectureReview,
		StateRejected,
	}, result.History)
}

func TestOrchestrator_DeploymentVetoTriggersRearchitecture(t *testing.T) {
	var deployPasses atomic.Int32
	h := newHarness(t, 5, 1, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(int) string { return "exit 0\n" }),
		swarm.RoleReleaseManager: swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
			if deployPasses.Add(1) == 1 {
				return swarm.Veto(swarm.RoleReleaseManager, task.ID, "rollout plan missing", swarm.SeverityBlocking), nil
			}
			return swarm.Approve(swarm.RoleReleaseManager, task.ID, nil), nil
		}),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	// The pipeline went back through architecture review.
	count := 0
	for _, s := range result.History {
		if s == StateArchitectureReview {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestOrchestrator_DeploymentVetoHonorsRetryBudget(t *testing.T) {
	// Re-architecture after a deployment veto spends the same retry
	// budget as sandbox refinement. With the budget already consumed,
	// a veto rejects the lineage instead of looping.
	h := newHarness(t, 1, 2, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(int) string { return "exit 0\n" }),
		swarm.RoleReleaseManager: swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
			return swarm.Veto(swarm.RoleReleaseManager, task.ID, "rollout plan missing", swarm.SeverityBlocking), nil
		}),
	})
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, feedback.ReasonRetryBudgetExhausted, result.Reason)
	assert.Equal(t, 1, result.Attempts)

	rec, err := h.store.Load(task.LineageID)
	require.NoError(t, err)
	assert.Equal(t, lineage.DispositionRejected, rec.Disposition)
	assert.LessOrEqual(t, len(rec.Attempts), 1)
}

func TestOrchestrator_HealerResolvesMissingDependency(t *testing.T) {
	var healerCalls atomic.Int32
	var h *harness
	var once sync.Once

	h = newHarness(t, 5, 2, map[swarm.Role]swarm.Agent{
		swarm.RoleBackendEngineer: scriptEngineer(func(int) string { return "exit 0\n" }),
		swarm.RoleEnvironmentSynthesizer: swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
			healerCalls.Add(1)
			once.Do(func() {
				h.resolver.Add(sandbox.Descriptor{Name: "numpy", Version: "1.26", Source: "synthesized"})
			})
			return swarm.Approve(swarm.RoleEnvironmentSynthesizer, task.ID, nil), nil
		}),
	})
	task := swarm.NewTask("build a portfolio app")
	profile := sandbox.Profile{
		Dependencies: []sandbox.Dependency{{Name: "numpy", Version: "1.26"}},
	}

	result, err := h.orch.Run(context.Background(), task, profile)
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int32(1), healerCalls.Load())

	rec, err := h.store.Load(task.LineageID)
	require.NoError(t, err)
	require.Len(t, rec.Attempts, 2)
	assert.Equal(t, "missing_dependency", rec.Attempts[0].Outcome)
}

func TestOrchestrator_NoArtifactRejected(t *testing.T) {
	// Everyone approves but nobody produced an artifact.
	h := newHarness(t, 5, 2, nil)
	task := swarm.NewTask("build a portfolio app")

	result, err := h.orch.Run(context.Background(), task, sandbox.Profile{})
	require.NoError(t, err)

	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, ReasonNoArtifact, result.Reason)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "squad")
}
