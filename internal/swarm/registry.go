package swarm

import (
	"fmt"
)

// Registry is the static agent population, keyed by role. It is built once
// at process start and never mutated afterwards; there is no runtime
// discovery of agents.
type Registry struct {
	agents map[Role]Agent
}

// NewRegistry builds the registry from a complete role→agent mapping.
// Every role of the fixed population must be present; unknown roles are
// rejected.
func NewRegistry(agents map[Role]Agent) (*Registry, error) {
	known := make(map[Role]bool, len(AllRoles()))
	for _, role := range AllRoles() {
		known[role] = true
	}

	for role := range agents {
		if !known[role] {
			return nil, fmt.Errorf("swarm: unknown role %q", role)
		}
	}

	for _, role := range AllRoles() {
		if agents[role] == nil {
			return nil, fmt.Errorf("swarm: no agent registered for role %q", role)
		}
	}

	copied := make(map[Role]Agent, len(agents))
	for role, agent := range agents {
		copied[role] = agent
	}

	return &Registry{agents: copied}, nil
}

// Agent returns the agent for a role.
func (r *Registry) Agent(role Role) (Agent, error) {
	agent, ok := r.agents[role]
	if !ok {
		return nil, fmt.Errorf("swarm: no agent for role %q", role)
	}
	return agent, nil
}

// Size returns the population size.
func (r *Registry) Size() int {
	return len(r.agents)
}
