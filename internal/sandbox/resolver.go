package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnresolvable is returned when a dependency cannot be resolved at all.
var ErrUnresolvable = errors.New("sandbox: dependency unresolvable")

// Descriptor is a resolved dependency.
type Descriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
}

// Resolver resolves a declared dependency to a concrete descriptor. It is
// an external collaborator boundary: the sandbox never attempts best-effort
// network-wide resolution itself, it asks the resolver and reports failures
// back to the calling squad.
type Resolver interface {
	Resolve(ctx context.Context, dep Dependency) (Descriptor, error)
}

// TableResolver resolves against a static local table. Concurrent-safe;
// entries may be added while runs are in flight, which is how the
// dependency-resolver role feeds acquired dependencies back in.
type TableResolver struct {
	mu      sync.RWMutex
	entries map[string][]Descriptor // name -> available versions
}

// NewTableResolver creates an empty table resolver.
func NewTableResolver() *TableResolver {
	return &TableResolver{entries: make(map[string][]Descriptor)}
}

// Add registers an available dependency version.
func (r *TableResolver) Add(desc Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[desc.Name] = append(r.entries[desc.Name], desc)
}

// Resolve implements Resolver. An empty requested version matches any
// available version; otherwise the version must match exactly.
func (r *TableResolver) Resolve(_ context.Context, dep Dependency) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available, ok := r.entries[dep.Name]
	if !ok || len(available) == 0 {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnresolvable, dep.Name)
	}

	if dep.Version == "" {
		return available[0], nil
	}
	for _, desc := range available {
		if desc.Version == dep.Version {
			return desc, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s@%s", ErrUnresolvable, dep.Name, dep.Version)
}
