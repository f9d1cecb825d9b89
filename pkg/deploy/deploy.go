// Package deploy is the outward surface of the pipeline. Once a lineage is
// accepted, the validated artifact and its sandbox profile are handed to a
// Publisher which creates the repository and CI pipeline for it. The core
// never talks to a hosting provider directly; providers implement
// Publisher. The package is self-contained so providers outside this
// module can implement it.
package deploy

import (
	"context"
	"time"
)

// Artifact is an accepted work product.
type Artifact struct {
	ID      string `json:"id"`
	TaskID  string `json:"task_id"`
	Content []byte `json:"content"`
}

// Dependency is one requirement the artifact was validated against.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Profile is the environment the artifact was validated in. The CI
// pipeline is configured to reproduce it.
type Profile struct {
	Dependencies []Dependency  `json:"dependencies,omitempty"`
	Command      []string      `json:"command,omitempty"`
	Env          []string      `json:"env,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// RepositoryHandle identifies a published repository.
type RepositoryHandle struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// PipelineHandle identifies a configured CI pipeline.
type PipelineHandle struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// Publisher turns an accepted artifact into a live repository and pipeline.
type Publisher interface {
	Publish(ctx context.Context, artifact Artifact) (RepositoryHandle, error)
	ConfigurePipeline(ctx context.Context, repo RepositoryHandle, profile Profile) (PipelineHandle, error)
}

// Noop is a Publisher that records nothing and returns empty handles. Used
// when the daemon runs without a configured provider.
type Noop struct{}

func (Noop) Publish(_ context.Context, _ Artifact) (RepositoryHandle, error) {
	return RepositoryHandle{Provider: "noop"}, nil
}

func (Noop) ConfigurePipeline(_ context.Context, _ RepositoryHandle, _ Profile) (PipelineHandle, error) {
	return PipelineHandle{Provider: "noop"}, nil
}
