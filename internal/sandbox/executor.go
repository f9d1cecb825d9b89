package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

// artifactFileName is the artifact's name inside the scratch directory.
const artifactFileName = "artifact"

// Executor provisions an isolated, ephemeral environment per run.
type Executor struct {
	workRoot   string
	timeout    time.Duration
	maxOutput  int64
	resolver   Resolver
	logger     *logging.Logger
}

// Options configures an Executor.
type Options struct {
	// WorkRoot is where per-run scratch directories are created.
	// Empty means the system temp dir.
	WorkRoot string

	// RunTimeout is the default wall-clock bound per run.
	RunTimeout time.Duration

	// MaxOutputBytes caps captured stdout+stderr per run.
	MaxOutputBytes int64

	// Resolver resolves declared dependencies. Required.
	Resolver Resolver

	// Logger receives run diagnostics. Required.
	Logger *logging.Logger
}

// NewExecutor creates an executor.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("sandbox: resolver is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("sandbox: logger is required")
	}
	if opts.RunTimeout <= 0 {
		return nil, fmt.Errorf("sandbox: run timeout must be > 0, got %v", opts.RunTimeout)
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 1 << 20
	}
	if opts.WorkRoot == "" {
		opts.WorkRoot = os.TempDir()
	}

	return &Executor{
		workRoot:  opts.WorkRoot,
		timeout:   opts.RunTimeout,
		maxOutput: opts.MaxOutputBytes,
		resolver:  opts.Resolver,
		logger:    opts.Logger.Named("sandbox"),
	}, nil
}

// Run validates the artifact against the profile in a throwaway
// environment. The artifact is only observed, never mutated; the scratch
// directory is removed on every exit path.
func (e *Executor) Run(ctx context.Context, artifact swarm.Artifact, profile Profile) Outcome {
	ctx = logging.WithTask(ctx, artifact.TaskID)

	// Resolve declared dependencies before touching the filesystem.
	if outcome, ok := e.resolveDependencies(ctx, profile); !ok {
		return outcome
	}

	dir, err := os.MkdirTemp(e.workRoot, "swarmd-run-")
	if err != nil {
		return Failure(LogicMismatch, []string{fmt.Sprintf("provision scratch dir: %v", err)}, nil)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			e.logger.Warn(ctx, "scratch dir teardown failed",
				zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	artifactPath := filepath.Join(dir, artifactFileName)
	if err := os.WriteFile(artifactPath, artifact.Content, 0o700); err != nil {
		return Failure(LogicMismatch, []string{fmt.Sprintf("materialize artifact: %v", err)}, nil)
	}

	timeout := e.timeout
	if profile.Timeout > 0 {
		timeout = profile.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := profile.Command
	if len(command) == 0 {
		command = []string{"/bin/sh", artifactFileName}
	}

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(minimalEnv(), profile.Env...)
	configureRunProcess(cmd)
	cmd.Cancel = func() error {
		killRunProcess(cmd)
		return nil
	}

	output := newBoundedBuffer(e.maxOutput)
	cmd.Stdout = output
	cmd.Stderr = output

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	diagnostics := splitDiagnostics(output.String())

	if runCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn(ctx, "sandbox run timed out",
			zap.Duration("timeout", timeout))
		return Failure(Timeout, append(diagnostics,
			fmt.Sprintf("run exceeded wall-clock bound of %v", timeout)), nil)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() == securityViolationExitCode {
			e.logger.Error(ctx, "sandbox run reported security violation",
				zap.Duration("elapsed", elapsed))
			return Failure(SecurityViolation, diagnostics, nil)
		}
		return Failure(LogicMismatch, append(diagnostics, runErr.Error()), nil)
	}

	hash := sha256.Sum256(artifact.Content)
	e.logger.Info(ctx, "sandbox run succeeded",
		zap.Duration("elapsed", elapsed))
	return Success(hex.EncodeToString(hash[:]))
}

// resolveDependencies resolves all declared dependencies. Returns
// (failure, false) when any is unresolvable; the run must not execute.
func (e *Executor) resolveDependencies(ctx context.Context, profile Profile) (Outcome, bool) {
	var missing []string
	var diagnostics []string

	for _, dep := range profile.Dependencies {
		if _, err := e.resolver.Resolve(ctx, dep); err != nil {
			name := dep.Name
			if dep.Version != "" {
				name = dep.Name + "@" + dep.Version
			}
			missing = append(missing, name)
			diagnostics = append(diagnostics, fmt.Sprintf("missing dependency: %s", name))
		}
	}

	if len(missing) > 0 {
		return Failure(MissingDependency, diagnostics, missing), false
	}
	return Outcome{}, true
}

// minimalEnv is the base environment for sandbox runs: PATH only, nothing
// inherited from the daemon.
func minimalEnv() []string {
	return []string{"PATH=" + os.Getenv("PATH")}
}

func splitDiagnostics(output string) []string {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}

// boundedBuffer captures run output up to a byte limit; anything past the
// limit is discarded, not an error, so a chatty artifact cannot wedge a run.
type boundedBuffer struct {
	buf   []byte
	limit int64
}

func newBoundedBuffer(limit int64) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - int64(len(b.buf))
	if remaining > 0 {
		take := int64(len(p))
		if take > remaining {
			take = remaining
		}
		b.buf = append(b.buf, p[:take]...)
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return string(b.buf)
}
