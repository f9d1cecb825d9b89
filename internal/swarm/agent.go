package swarm

import "context"

// Role identifies a specialist agent within the fixed population.
type Role string

// The 14 roles of the swarm, grouped by squad.
const (
	// Architecture squad
	RoleSystemArchitect Role = "system-architect"
	RoleAPIDesigner     Role = "api-designer"
	RoleSchemaDesigner  Role = "schema-designer"
	RoleMLArchitect     Role = "ml-architect"

	// Engineering squad
	RoleBackendEngineer  Role = "backend-engineer"
	RoleFrontendEngineer Role = "frontend-engineer"
	RoleMLEngineer       Role = "ml-engineer"
	RoleCodeReviewer     Role = "code-reviewer"

	// Healer squad
	RoleEnvironmentSynthesizer Role = "environment-synthesizer"
	RoleDependencyResolver     Role = "dependency-resolver"
	RoleDiagnostician          Role = "diagnostician"

	// Deployment squad
	RoleReleaseManager   Role = "release-manager"
	RolePipelineEngineer Role = "pipeline-engineer"
	RoleSecurityAuditor  Role = "security-auditor"
)

// SquadRoles returns the roles composing each squad, in a fixed order.
func SquadRoles(squad SquadName) []Role {
	switch squad {
	case SquadArchitecture:
		return []Role{RoleSystemArchitect, RoleAPIDesigner, RoleSchemaDesigner, RoleMLArchitect}
	case SquadEngineering:
		return []Role{RoleBackendEngineer, RoleFrontendEngineer, RoleMLEngineer, RoleCodeReviewer}
	case SquadHealer:
		return []Role{RoleEnvironmentSynthesizer, RoleDependencyResolver, RoleDiagnostician}
	case SquadDeployment:
		return []Role{RoleReleaseManager, RolePipelineEngineer, RoleSecurityAuditor}
	default:
		return nil
	}
}

// AllRoles returns every role of the population in squad order.
func AllRoles() []Role {
	var roles []Role
	for _, squad := range AllSquads() {
		roles = append(roles, SquadRoles(squad)...)
	}
	return roles
}

// Agent is the contract every specialist implements. The domain logic behind
// Evaluate (code generation, schema design, architecture choice) is an
// opaque strategy; the core only sequences calls and aggregates verdicts.
//
// Evaluate must respect ctx: the orchestrator cancels it on timeout,
// security override, or retry-budget exhaustion.
type Agent interface {
	Evaluate(ctx context.Context, task Task) (Verdict, error)
}

// StrategyFunc adapts a plain function to the Agent interface.
type StrategyFunc func(ctx context.Context, task Task) (Verdict, error)

// Evaluate implements Agent.
func (f StrategyFunc) Evaluate(ctx context.Context, task Task) (Verdict, error) {
	return f(ctx, task)
}
