package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/swarmd/internal/feedback"
	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
	"github.com/fyrsmithlabs/swarmd/pkg/deploy"
)

// Terminal reasons reported in Result.Reason.
const (
	ReasonArchitectureRejected = "architecture consensus not reached"
	ReasonDeploymentRejected   = "deployment consensus not reached"
	ReasonSecurityOverride     = "security override"
	ReasonNoArtifact           = "engineering squad produced no artifact"
	ReasonHealerRejected       = "environment unrecoverable"
)

// Result is the terminal report for one lineage.
type Result struct {
	State        State
	Reason       string
	History      []State
	Attempts     int
	ArtifactHash string
	Repository   deploy.RepositoryHandle
	Pipeline     deploy.PipelineHandle
}

// Orchestrator drives a task from intake to acceptance or rejection.
type Orchestrator struct {
	squads      map[swarm.SquadName]*swarm.Squad
	gate        swarm.ConsensusGate
	executor    *sandbox.Executor
	controller  *feedback.Controller
	publisher   deploy.Publisher
	archRetries int
	logger      *logging.Logger
	metrics     *Metrics
}

// Options configures an Orchestrator.
type Options struct {
	Squads map[swarm.SquadName]*swarm.Squad
	// Gate is applied to every squad's verdicts.
	Gate       swarm.ConsensusGate
	Executor   *sandbox.Executor
	Controller *feedback.Controller
	// Publisher receives accepted artifacts. Defaults to deploy.Noop.
	Publisher deploy.Publisher
	// MaxArchitectureRetries bounds re-architecture after a deployment or
	// architecture gate failure.
	MaxArchitectureRetries int
	Logger                 *logging.Logger
	Metrics                *Metrics
}

// New validates options and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	for _, squad := range swarm.AllSquads() {
		if opts.Squads[squad] == nil {
			return nil, fmt.Errorf("orchestrator: squad %s is required", squad)
		}
	}
	if opts.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("orchestrator: controller is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("orchestrator: logger is required")
	}
	if opts.MaxArchitectureRetries < 0 {
		return nil, errors.New("orchestrator: max architecture retries must not be negative")
	}
	if opts.Publisher == nil {
		opts.Publisher = deploy.Noop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Orchestrator{
		squads:      opts.Squads,
		gate:        opts.Gate,
		executor:    opts.Executor,
		controller:  opts.Controller,
		publisher:   opts.Publisher,
		archRetries: opts.MaxArchitectureRetries,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// run tracks one lineage moving through the state machine.
type run struct {
	task         swarm.Task
	profile      sandbox.Profile
	state        State
	history      []State
	artifact     *swarm.Artifact
	artifactHash string
	reason       string
	cancel       context.CancelFunc
}

func (r *run) transition(m *Metrics, to State) error {
	if err := ValidateTransition(r.state, to); err != nil {
		return err
	}
	m.RecordTransition(r.state, to)
	r.state = to
	r.history = append(r.history, to)
	return nil
}

// Run drives task to a terminal state. The returned Result is also recorded
// in the lineage store. Run only errors on infrastructure failures; domain
// rejections are reported in the Result.
func (o *Orchestrator) Run(ctx context.Context, task swarm.Task, profile sandbox.Profile) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = logging.WithTask(ctx, task.LineageID)

	r := &run{
		task:    task,
		profile: profile,
		state:   StateReceived,
		history: []State{StateReceived},
		cancel:  cancel,
	}
	o.logger.Info(ctx, "task received")

	archAttempts := 0
	for !r.state.Terminal() {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("orchestrator: %w", err)
		}

		var err error
		switch r.state {
		case StateReceived:
			err = r.transition(o.metrics, StateArchitectureReview)
		case StateArchitectureReview:
			err = o.reviewArchitecture(ctx, r, &archAttempts)
		case StateEngineeringDraft:
			err = o.draftEngineering(ctx, r)
		case StateSandboxValidation:
			err = o.validate(ctx, r)
		case StateRefining:
			err = o.refine(ctx, r)
		case StateDeploymentApproval:
			err = o.approveDeployment(ctx, r, &archAttempts)
		default:
			err = fmt.Errorf("orchestrator: unhandled state %s", r.state)
		}
		if err != nil {
			return Result{}, err
		}
	}

	return o.finish(ctx, r)
}

// evaluate runs one squad and applies the gate, recording metrics.
func (o *Orchestrator) evaluate(ctx context.Context, squad swarm.SquadName, task swarm.Task) ([]swarm.Verdict, swarm.GateResult) {
	start := time.Now()
	verdicts := o.squads[squad].Evaluate(ctx, task)
	o.metrics.GateDuration.WithLabelValues(string(squad)).Observe(time.Since(start).Seconds())
	o.metrics.RecordVerdicts(verdicts)
	return verdicts, o.gate.Evaluate(verdicts)
}

func (o *Orchestrator) reviewArchitecture(ctx context.Context, r *run, archAttempts *int) error {
	verdicts, gate := o.evaluate(ctx, swarm.SquadArchitecture, r.task)
	if veto, ok := securityOverride(verdicts); ok {
		return o.rejectWithOverride(ctx, r, veto)
	}
	if gate.Passed {
		o.logger.Info(ctx, "architecture review passed")
		return r.transition(o.metrics, StateEngineeringDraft)
	}
	*archAttempts++
	if *archAttempts > o.archRetries {
		return o.reject(ctx, r, ReasonArchitectureRejected)
	}
	// A failed review returns the task to intake with the objections
	// attached; the next loop iteration re-enters review.
	o.logger.Warn(ctx, "architecture review failed, retrying")
	r.task.Diagnostics = append(r.task.Diagnostics, gate.Objections()...)
	return r.transition(o.metrics, StateReceived)
}

func (o *Orchestrator) draftEngineering(ctx context.Context, r *run) error {
	verdicts, gate := o.evaluate(ctx, swarm.SquadEngineering, r.task)
	if veto, ok := securityOverride(verdicts); ok {
		return o.rejectWithOverride(ctx, r, veto)
	}
	if !gate.Passed {
		// Review objections count against the same retry budget as
		// sandbox failures.
		return o.applyDecision(ctx, r,
			sandbox.Failure(sandbox.LogicMismatch, gate.Objections(), nil))
	}

	r.artifact = swarm.FirstArtifact(verdicts)
	if r.artifact == nil {
		return o.reject(ctx, r, ReasonNoArtifact)
	}
	o.logger.Info(ctx, "engineering draft produced")
	return r.transition(o.metrics, StateSandboxValidation)
}

func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	start := time.Now()
	outcome := o.executor.Run(ctx, *r.artifact, r.profile)
	o.metrics.SandboxRunDuration.Observe(time.Since(start).Seconds())
	if outcome.OK {
		r.artifactHash = outcome.ArtifactHash
	}
	return o.applyDecision(ctx, r, outcome)
}

// applyDecision routes a sandbox or review outcome through the feedback
// controller and transitions accordingly.
func (o *Orchestrator) applyDecision(ctx context.Context, r *run, outcome sandbox.Outcome) error {
	decision, err := o.controller.OnOutcome(ctx, r.task, outcome)
	if err != nil {
		return err
	}
	switch decision.Action {
	case feedback.ActionAccept:
		return r.transition(o.metrics, StateDeploymentApproval)
	case feedback.ActionRefine:
		o.metrics.RefinementCyclesTotal.Inc()
		r.task = *decision.Next
		r.artifact = nil
		return r.transition(o.metrics, StateRefining)
	case feedback.ActionReject, feedback.ActionNone:
		r.reason = decision.Reason
		r.cancel()
		o.logger.Warn(ctx, "lineage rejected: "+decision.Reason)
		return r.transition(o.metrics, StateRejected)
	default:
		return fmt.Errorf("orchestrator: unknown decision %q", decision.Action)
	}
}

// refine consults the healer squad when the last failure was environmental,
// then hands the refined task back to engineering.
func (o *Orchestrator) refine(ctx context.Context, r *run) error {
	if hasMissingDependency(r.task) {
		verdicts, gate := o.evaluate(ctx, swarm.SquadHealer, r.task)
		if veto, ok := securityOverride(verdicts); ok {
			return o.rejectWithOverride(ctx, r, veto)
		}
		if !gate.Passed {
			return o.reject(ctx, r, ReasonHealerRejected)
		}
		for _, v := range gate.Advisories {
			r.task.Diagnostics = append(r.task.Diagnostics,
				fmt.Sprintf("[%s] %s", v.Role, v.Reason))
		}
		o.logger.Info(ctx, "environment healed")
	}
	return r.transition(o.metrics, StateEngineeringDraft)
}

func (o *Orchestrator) approveDeployment(ctx context.Context, r *run, archAttempts *int) error {
	verdicts, gate := o.evaluate(ctx, swarm.SquadDeployment, r.task)
	if veto, ok := securityOverride(verdicts); ok {
		return o.rejectWithOverride(ctx, r, veto)
	}
	if gate.Passed {
		return r.transition(o.metrics, StateAccepted)
	}

	*archAttempts++
	if *archAttempts > o.archRetries {
		return o.reject(ctx, r, ReasonDeploymentRejected)
	}

	// The previous attempt was recorded at sandbox validation, so the
	// re-architected pass runs as a superseding task. The controller
	// enforces the retry budget on the successor.
	decision, err := o.controller.Supersede(ctx, r.task, gate.Objections())
	if err != nil {
		return err
	}
	if decision.Action != feedback.ActionRefine {
		r.reason = decision.Reason
		r.cancel()
		o.logger.Warn(ctx, "lineage rejected: "+decision.Reason)
		return r.transition(o.metrics, StateRejected)
	}
	o.logger.Warn(ctx, "deployment approval failed, re-architecting")
	o.metrics.RefinementCyclesTotal.Inc()
	r.task = *decision.Next
	r.artifact = nil
	return r.transition(o.metrics, StateArchitectureReview)
}

func (o *Orchestrator) reject(ctx context.Context, r *run, reason string) error {
	r.reason = reason
	r.cancel()
	if err := o.controller.Conclude(r.task.LineageID, lineage.DispositionRejected, reason); err != nil {
		return err
	}
	o.logger.Warn(ctx, "lineage rejected: "+reason)
	return r.transition(o.metrics, StateRejected)
}

func (o *Orchestrator) rejectWithOverride(ctx context.Context, r *run, veto swarm.Verdict) error {
	reason := fmt.Sprintf("%s: %s", ReasonSecurityOverride, veto.Reason)
	return o.reject(ctx, r, reason)
}

func (o *Orchestrator) finish(ctx context.Context, r *run) (Result, error) {
	result := Result{
		State:        r.state,
		Reason:       r.reason,
		History:      r.history,
		Attempts:     r.task.Attempt,
		ArtifactHash: r.artifactHash,
	}

	if r.state == StateRejected {
		o.metrics.RecordFinished("rejected")
		return result, nil
	}

	// Accepted: publish and close the lineage.
	repo, err := o.publisher.Publish(ctx, deployArtifact(*r.artifact))
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: publish: %w", err)
	}
	pipeline, err := o.publisher.ConfigurePipeline(ctx, repo, deployProfile(r.profile))
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: configure pipeline: %w", err)
	}
	if err := o.controller.Conclude(r.task.LineageID, lineage.DispositionAccepted, "deployment approved"); err != nil {
		return Result{}, err
	}
	result.Repository = repo
	result.Pipeline = pipeline
	o.metrics.RecordFinished("accepted")
	o.logger.Info(ctx, "lineage accepted")
	return result, nil
}

// deployArtifact converts the internal artifact to the public deploy type.
func deployArtifact(a swarm.Artifact) deploy.Artifact {
	return deploy.Artifact{ID: a.ID, TaskID: a.TaskID, Content: a.Content}
}

// deployProfile converts the validated sandbox profile to the public
// deploy type so the CI pipeline can reproduce the environment.
func deployProfile(p sandbox.Profile) deploy.Profile {
	deps := make([]deploy.Dependency, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		deps = append(deps, deploy.Dependency{Name: d.Name, Version: d.Version})
	}
	return deploy.Profile{
		Dependencies: deps,
		Command:      p.Command,
		Env:          p.Env,
		Timeout:      p.Timeout,
	}
}

// securityOverride scans verdicts for a critical veto from the security
// auditor. Such a veto short-circuits the pipeline regardless of quorum.
func securityOverride(verdicts []swarm.Verdict) (swarm.Verdict, bool) {
	for _, v := range verdicts {
		if v.Role == swarm.RoleSecurityAuditor && v.Kind == swarm.VerdictVeto && v.Severity >= swarm.SeverityCritical {
			return v, true
		}
	}
	return swarm.Verdict{}, false
}

func hasMissingDependency(task swarm.Task) bool {
	for _, d := range task.Diagnostics {
		if strings.HasPrefix(d, "missing dependency:") {
			return true
		}
	}
	return false
}
