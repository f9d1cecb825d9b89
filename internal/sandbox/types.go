package sandbox

import (
	"time"
)

// ErrorKind classifies a failed sandbox run.
type ErrorKind string

const (
	// MissingDependency: a declared dependency could not be resolved.
	// The run never executed. Recoverable via the dependency resolver.
	MissingDependency ErrorKind = "missing_dependency"

	// Timeout: the run exceeded its wall-clock bound and was killed.
	Timeout ErrorKind = "timeout"

	// LogicMismatch: the artifact executed but failed validation.
	LogicMismatch ErrorKind = "logic_mismatch"

	// SecurityViolation: the validation harness reported a security
	// breach. Never retried.
	SecurityViolation ErrorKind = "security_violation"
)

// securityViolationExitCode is the harness exit code reserved for security
// findings.
const securityViolationExitCode = 3

// Dependency is one declared requirement of a profile.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Profile declares the environment constraints for a candidate artifact.
// It is assembled by the environment-synthesizer role and must not change
// once a run is in flight; Run takes it by value so callers cannot reach a
// running copy.
type Profile struct {
	// Dependencies the run requires. All must resolve before execution.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// Command is the entry command, executed with the run's scratch
	// directory as working directory. Empty means "/bin/sh <artifact>".
	Command []string `json:"command,omitempty"`

	// Env is extra environment for the run, "KEY=VALUE" form.
	Env []string `json:"env,omitempty"`

	// Timeout overrides the executor's default wall-clock bound when > 0.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Outcome is the result of one sandbox run.
type Outcome struct {
	// OK is true for a successful validation run.
	OK bool `json:"ok"`

	// ArtifactHash is the SHA-256 of the validated artifact on success.
	ArtifactHash string `json:"artifact_hash,omitempty"`

	// Kind classifies the failure when OK is false.
	Kind ErrorKind `json:"kind,omitempty"`

	// Diagnostics carries captured output and failure context.
	Diagnostics []string `json:"diagnostics,omitempty"`

	// MissingDeps names unresolvable dependencies for MissingDependency.
	MissingDeps []string `json:"missing_deps,omitempty"`
}

// Success builds a successful outcome.
func Success(artifactHash string) Outcome {
	return Outcome{OK: true, ArtifactHash: artifactHash}
}

// Failure builds a failed outcome.
func Failure(kind ErrorKind, diagnostics []string, missingDeps []string) Outcome {
	return Outcome{
		Kind:        kind,
		Diagnostics: diagnostics,
		MissingDeps: missingDeps,
	}
}
