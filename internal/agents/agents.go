// Package agents provides the built-in strategy population. These are
// deliberately simple heuristics: real deployments replace individual
// entries with strategies backed by external services. The core never
// depends on what an Evaluate call does internally, only on the verdicts.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

// denyPatterns trip the security auditor's critical veto.
var denyPatterns = []string{
	"rm -rf /",
	"curl | sh",
	"| sh",
	"base64 -d",
	"password=",
	"secret_key",
	"private key",
}

// DefaultRegistry builds the full 14-role population.
func DefaultRegistry() (*swarm.Registry, error) {
	population := map[swarm.Role]swarm.Agent{
		swarm.RoleSystemArchitect: swarm.StrategyFunc(reviewScope),
		swarm.RoleAPIDesigner:     approver(swarm.RoleAPIDesigner),
		swarm.RoleSchemaDesigner:  approver(swarm.RoleSchemaDesigner),
		swarm.RoleMLArchitect:     approver(swarm.RoleMLArchitect),

		swarm.RoleBackendEngineer:  swarm.StrategyFunc(draftArtifact),
		swarm.RoleFrontendEngineer: approver(swarm.RoleFrontendEngineer),
		swarm.RoleMLEngineer:       approver(swarm.RoleMLEngineer),
		swarm.RoleCodeReviewer:     swarm.StrategyFunc(reviewDraft),

		swarm.RoleEnvironmentSynthesizer: approver(swarm.RoleEnvironmentSynthesizer),
		swarm.RoleDependencyResolver:     approver(swarm.RoleDependencyResolver),
		swarm.RoleDiagnostician:          approver(swarm.RoleDiagnostician),

		swarm.RoleReleaseManager:   approver(swarm.RoleReleaseManager),
		swarm.RolePipelineEngineer: approver(swarm.RolePipelineEngineer),
		swarm.RoleSecurityAuditor:  swarm.StrategyFunc(auditSecurity),
	}
	return swarm.NewRegistry(population)
}

func approver(role swarm.Role) swarm.Agent {
	return swarm.StrategyFunc(func(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
		return swarm.Approve(role, task.ID, nil), nil
	})
}

// reviewScope vetoes tasks too vague to architect.
func reviewScope(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
	if len(strings.TrimSpace(task.Payload)) < 8 {
		return swarm.Veto(swarm.RoleSystemArchitect, task.ID,
			"task underspecified", swarm.SeverityBlocking), nil
	}
	return swarm.Approve(swarm.RoleSystemArchitect, task.ID, nil), nil
}

// draftArtifact produces a shell artifact that scaffolds the requested
// project. Diagnostics from prior attempts are folded into the plan.
func draftArtifact(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "echo 'scaffolding: %s'\n", sanitize(task.Payload))
	for _, d := range task.Diagnostics {
		fmt.Fprintf(&b, "echo 'addressed: %s'\n", sanitize(d))
	}
	b.WriteString("exit 0\n")

	artifact := &swarm.Artifact{
		ID:      uuid.New().String(),
		TaskID:  task.ID,
		Content: []byte(b.String()),
	}
	return swarm.Approve(swarm.RoleBackendEngineer, task.ID, artifact), nil
}

// reviewDraft flags unfinished work as advisory.
func reviewDraft(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
	if strings.Contains(task.Payload, "TODO") {
		return swarm.Veto(swarm.RoleCodeReviewer, task.ID,
			"payload contains unfinished items", swarm.SeverityAdvisory), nil
	}
	return swarm.Approve(swarm.RoleCodeReviewer, task.ID, nil), nil
}

// auditSecurity vetoes critically on deny-listed patterns anywhere in the
// task payload or accumulated diagnostics.
func auditSecurity(_ context.Context, task swarm.Task) (swarm.Verdict, error) {
	haystack := strings.ToLower(task.Payload + "\n" + strings.Join(task.Diagnostics, "\n"))
	for _, pattern := range denyPatterns {
		if strings.Contains(haystack, pattern) {
			return swarm.Veto(swarm.RoleSecurityAuditor, task.ID,
				"deny-listed pattern: "+pattern, swarm.SeverityCritical), nil
		}
	}
	return swarm.Approve(swarm.RoleSecurityAuditor, task.ID, nil), nil
}

// sanitize strips quoting hazards before the text is embedded in a script.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
