package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// AuditTopic returns the bus topic verdicts of a squad are published on.
func AuditTopic(squad SquadName) string {
	return "swarm.audit." + string(squad)
}

// Publisher is the bus surface a squad needs for verdict auditing.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// Timeouts bounds agent evaluation. A per-role entry wins over Default.
type Timeouts struct {
	Default time.Duration
	PerRole map[Role]time.Duration
}

// For returns the timeout for a role.
func (t Timeouts) For(role Role) time.Duration {
	if d, ok := t.PerRole[role]; ok && d > 0 {
		return d
	}
	return t.Default
}

// Squad is a fixed group of agents sharing one pipeline stage. All members
// evaluate the same task concurrently and cannot observe each other's
// verdicts before submitting their own: verdicts are gathered first and only
// then published on the audit topic.
type Squad struct {
	name     SquadName
	registry *Registry
	timeouts Timeouts
	bus      Publisher
	logger   *logging.Logger
}

// NewSquad assembles the squad for name from the registry.
func NewSquad(name SquadName, registry *Registry, timeouts Timeouts, bus Publisher, logger *logging.Logger) (*Squad, error) {
	roles := SquadRoles(name)
	if len(roles) == 0 {
		return nil, errors.New("swarm: unknown squad " + string(name))
	}
	for _, role := range roles {
		if _, err := registry.Agent(role); err != nil {
			return nil, err
		}
	}

	return &Squad{
		name:     name,
		registry: registry,
		timeouts: timeouts,
		bus:      bus,
		logger:   logger.Named("squad." + string(name)),
	}, nil
}

// Name returns the squad name.
func (s *Squad) Name() SquadName {
	return s.name
}

// Evaluate fans the task out to every member in parallel and gathers all
// verdicts before returning. A member that times out, errors, or is
// cancelled yields a synthesized critical veto rather than a missing entry,
// so the consensus gate always sees the full squad.
func (s *Squad) Evaluate(ctx context.Context, task Task) []Verdict {
	ctx = logging.WithSquad(logging.WithTask(ctx, task.ID), string(s.name))
	ctx = logging.WithAttempt(ctx, task.Attempt)

	roles := SquadRoles(s.name)
	verdicts := make([]Verdict, len(roles))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range roles {
		g.Go(func() error {
			verdicts[i] = s.evaluateOne(gctx, role, task)
			return nil
		})
	}
	// Members never return errors; failures become vetoes.
	_ = g.Wait()

	s.publishAudit(ctx, task, verdicts)

	return verdicts
}

// evaluateOne runs a single member under its role timeout.
func (s *Squad) evaluateOne(ctx context.Context, role Role, task Task) Verdict {
	agent, err := s.registry.Agent(role)
	if err != nil {
		return Veto(role, task.ID, "agent missing from registry", SeverityCritical)
	}

	timeout := s.timeouts.For(role)
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		verdict Verdict
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		v, err := agent.Evaluate(evalCtx, task)
		resultCh <- result{verdict: v, err: err}
	}()

	select {
	case <-evalCtx.Done():
		reason := "timeout"
		if errors.Is(evalCtx.Err(), context.Canceled) {
			reason = "cancelled"
		}
		s.logger.Warn(ctx, "agent evaluation did not complete",
			zap.String("role", string(role)),
			zap.String("reason", reason),
			zap.Duration("timeout", timeout))
		return Veto(role, task.ID, reason, SeverityCritical)

	case res := <-resultCh:
		if res.err != nil {
			s.logger.Error(ctx, "agent evaluation failed",
				zap.String("role", string(role)),
				zap.Error(res.err))
			return Veto(role, task.ID, res.err.Error(), SeverityCritical)
		}
		v := res.verdict
		v.Role = role
		v.TaskID = task.ID
		return v
	}
}

// publishAudit publishes every gathered verdict on the squad's audit topic.
// Audit publishing is best-effort; a bus error never blocks consensus.
func (s *Squad) publishAudit(ctx context.Context, task Task, verdicts []Verdict) {
	if s.bus == nil {
		return
	}
	topic := AuditTopic(s.name)
	for _, v := range verdicts {
		data, err := json.Marshal(v)
		if err != nil {
			s.logger.Error(ctx, "marshal verdict for audit", zap.Error(err))
			continue
		}
		if err := s.bus.Publish(topic, data); err != nil {
			s.logger.Warn(ctx, "audit publish failed",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}
