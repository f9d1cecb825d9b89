package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

// Action is the controller's decision for one sandbox outcome.
type Action string

const (
	// ActionAccept means the attempt validated and may proceed to
	// deployment approval.
	ActionAccept Action = "accept"
	// ActionRefine means a successor task was queued for engineering.
	ActionRefine Action = "refine"
	// ActionReject means the lineage was closed as rejected.
	ActionReject Action = "reject"
	// ActionNone means the lineage was already terminal and nothing
	// was done.
	ActionNone Action = "none"
)

// Terminal rejection reasons.
const (
	ReasonRetryBudgetExhausted = "retry budget exhausted"
	ReasonSecurityViolation    = "security violation"
)

// Decision reports what the controller did with an outcome.
type Decision struct {
	Action Action
	Next   *swarm.Task
	Reason string
}

// Recoverable reports whether a failure kind is worth another attempt.
// Security violations are never retried.
func Recoverable(kind sandbox.ErrorKind) bool {
	switch kind {
	case sandbox.MissingDependency, sandbox.LogicMismatch, sandbox.Timeout:
		return true
	default:
		return false
	}
}

// Controller drives the refinement loop.
type Controller struct {
	maxAttempts int
	store       lineage.Store
	bus         swarm.Publisher
	logger      *logging.Logger
}

// Options configures a Controller.
type Options struct {
	MaxAttempts int
	Store       lineage.Store
	Bus         swarm.Publisher
	Logger      *logging.Logger
}

// NewController validates options and returns a Controller.
func NewController(opts Options) (*Controller, error) {
	if opts.MaxAttempts <= 0 {
		return nil, fmt.Errorf("feedback: max attempts must be positive, got %d", opts.MaxAttempts)
	}
	if opts.Store == nil {
		return nil, errors.New("feedback: store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("feedback: bus is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("feedback: logger is required")
	}
	return &Controller{
		maxAttempts: opts.MaxAttempts,
		store:       opts.Store,
		bus:         opts.Bus,
		logger:      opts.Logger,
	}, nil
}

// OnOutcome records the attempt in the task's lineage and decides how the
// pipeline proceeds. If the lineage is already terminal the outcome is
// dropped and ActionNone returned.
func (c *Controller) OnOutcome(ctx context.Context, task swarm.Task, outcome sandbox.Outcome) (Decision, error) {
	ctx = logging.WithTask(logging.WithAttempt(ctx, task.Attempt), task.LineageID)

	rec, err := c.store.Load(task.LineageID)
	if errors.Is(err, lineage.ErrNotFound) {
		rec = lineage.NewRecord(task.LineageID)
	} else if err != nil {
		return Decision{}, fmt.Errorf("feedback: load lineage: %w", err)
	}
	if rec.Terminal() {
		c.logger.Warn(ctx, "outcome for closed lineage dropped")
		return Decision{Action: ActionNone, Reason: string(rec.Disposition)}, nil
	}

	attempt := lineage.Attempt{
		TaskID:      task.ID,
		Number:      task.Attempt,
		Outcome:     outcomeName(outcome),
		Diagnostics: outcome.Diagnostics,
		RecordedAt:  time.Now().UTC(),
	}
	if err := rec.AppendAttempt(attempt); err != nil {
		return Decision{}, fmt.Errorf("feedback: %w", err)
	}

	decision, err := c.decide(ctx, task, outcome, &rec)
	if err != nil {
		return Decision{}, err
	}
	if err := c.store.Save(rec); err != nil {
		return Decision{}, fmt.Errorf("feedback: save lineage: %w", err)
	}
	return decision, nil
}

func (c *Controller) decide(ctx context.Context, task swarm.Task, outcome sandbox.Outcome, rec *lineage.Record) (Decision, error) {
	if outcome.OK {
		c.logger.Info(ctx, "attempt validated")
		return Decision{Action: ActionAccept}, nil
	}

	if !Recoverable(outcome.Kind) {
		if err := rec.Close(lineage.DispositionRejected, ReasonSecurityViolation); err != nil {
			return Decision{}, fmt.Errorf("feedback: %w", err)
		}
		c.logger.Warn(ctx, "lineage rejected, fatal failure")
		return Decision{Action: ActionReject, Reason: ReasonSecurityViolation}, nil
	}

	if task.Attempt >= c.maxAttempts {
		if err := rec.Close(lineage.DispositionRejected, ReasonRetryBudgetExhausted); err != nil {
			return Decision{}, fmt.Errorf("feedback: %w", err)
		}
		c.logger.Warn(ctx, "lineage rejected, retry budget exhausted")
		return Decision{Action: ActionReject, Reason: ReasonRetryBudgetExhausted}, nil
	}

	next := task.Refine(outcome.Diagnostics)
	data, err := json.Marshal(next)
	if err != nil {
		return Decision{}, fmt.Errorf("feedback: encode refined task: %w", err)
	}
	if err := c.bus.Publish(swarm.TaskTopic(swarm.SquadEngineering), data); err != nil {
		return Decision{}, fmt.Errorf("feedback: queue refined task: %w", err)
	}
	c.logger.Info(ctx, "refined task queued")
	return Decision{Action: ActionRefine, Next: &next, Reason: string(outcome.Kind)}, nil
}

// Supersede derives a successor task after a review gate objected to an
// already-validated attempt. The successor counts against the same retry
// budget as sandbox-driven refinement, so a lineage can never accumulate
// attempts past MaxAttempts through gate objections alone. Unlike
// OnOutcome, no attempt is recorded here; the successor records its own
// when it reaches validation.
func (c *Controller) Supersede(ctx context.Context, task swarm.Task, objections []string) (Decision, error) {
	ctx = logging.WithTask(logging.WithAttempt(ctx, task.Attempt), task.LineageID)

	rec, err := c.store.Load(task.LineageID)
	if errors.Is(err, lineage.ErrNotFound) {
		rec = lineage.NewRecord(task.LineageID)
	} else if err != nil {
		return Decision{}, fmt.Errorf("feedback: load lineage: %w", err)
	}
	if rec.Terminal() {
		c.logger.Warn(ctx, "supersede for closed lineage dropped")
		return Decision{Action: ActionNone, Reason: string(rec.Disposition)}, nil
	}

	if task.Attempt >= c.maxAttempts {
		if err := rec.Close(lineage.DispositionRejected, ReasonRetryBudgetExhausted); err != nil {
			return Decision{}, fmt.Errorf("feedback: %w", err)
		}
		if err := c.store.Save(rec); err != nil {
			return Decision{}, fmt.Errorf("feedback: save lineage: %w", err)
		}
		c.logger.Warn(ctx, "lineage rejected, retry budget exhausted")
		return Decision{Action: ActionReject, Reason: ReasonRetryBudgetExhausted}, nil
	}

	next := task.Refine(objections)
	c.logger.Info(ctx, "superseding task queued")
	return Decision{Action: ActionRefine, Next: &next}, nil
}

// Conclude closes a lineage with a terminal disposition. The orchestrator
// calls this when a gate, rather than the sandbox, decides the outcome.
// Concluding an already terminal lineage is a no-op.
func (c *Controller) Conclude(lineageID string, d lineage.Disposition, reason string) error {
	rec, err := c.store.Load(lineageID)
	if errors.Is(err, lineage.ErrNotFound) {
		rec = lineage.NewRecord(lineageID)
	} else if err != nil {
		return fmt.Errorf("feedback: load lineage: %w", err)
	}
	if rec.Terminal() {
		return nil
	}
	if err := rec.Close(d, reason); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	if err := c.store.Save(rec); err != nil {
		return fmt.Errorf("feedback: save lineage: %w", err)
	}
	return nil
}

func outcomeName(outcome sandbox.Outcome) string {
	if outcome.OK {
		return "success"
	}
	return string(outcome.Kind)
}
