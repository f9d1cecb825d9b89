// Swarmd is the multi-agent pipeline daemon.
//
// This binary starts the swarmd HTTP server with full service
// initialization: message bus (embedded or external NATS), the agent
// population, the sandbox executor, lineage persistence, and the pipeline
// orchestrator.
//
// Configuration is loaded from a YAML file overridden by SWARMD_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start daemon with defaults
//	swarmd
//
//	# Start with a config file
//	swarmd -config /etc/swarmd/config.yaml
//
//	# Configure via environment
//	SWARMD_SERVER_HTTP_PORT=9090 swarmd
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/swarmd/internal/agents"
	"github.com/fyrsmithlabs/swarmd/internal/bus"
	"github.com/fyrsmithlabs/swarmd/internal/config"
	"github.com/fyrsmithlabs/swarmd/internal/feedback"
	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/orchestrator"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/server"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  swarmd           Start the swarmd daemon\n")
			fmt.Fprintf(os.Stderr, "  swarmd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

func printVersion() {
	fmt.Printf("swarmd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is cancelled:
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Starts or connects to NATS and wraps it in the message bus
//  4. Builds the agent population, squads, and consensus gate
//  5. Creates the sandbox executor and lineage store
//  6. Wires the feedback controller and orchestrator
//  7. Starts the HTTP server and the bus intake loop
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		logCfg.Level = level
	}
	logCfg.Format = cfg.Logging.Format
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting swarmd "+version)

	// Message bus.
	natsURL := cfg.Bus.URL
	if cfg.Bus.Embedded {
		ns, err := bus.StartEmbedded()
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
	}
	nc, err := bus.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	b, err := bus.New(nc, bus.Options{Retention: cfg.Bus.Retention, Logger: logger})
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer b.Close()

	go drainUndeliverable(ctx, b, logger)

	// Agent population and squads.
	registry, err := agents.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	timeouts := swarm.Timeouts{
		Default: cfg.Swarm.EvaluateTimeout,
		PerRole: make(map[swarm.Role]time.Duration, len(cfg.Swarm.RoleTimeouts)),
	}
	for role, d := range cfg.Swarm.RoleTimeouts {
		timeouts.PerRole[swarm.Role(role)] = d
	}
	squads := make(map[swarm.SquadName]*swarm.Squad, len(swarm.AllSquads()))
	for _, name := range swarm.AllSquads() {
		squad, err := swarm.NewSquad(name, registry, timeouts, b, logger)
		if err != nil {
			return fmt.Errorf("build squad %s: %w", name, err)
		}
		squads[name] = squad
	}

	blocking, err := swarm.ParseSeverity(cfg.Swarm.BlockingSeverity)
	if err != nil {
		return fmt.Errorf("parse blocking severity: %w", err)
	}
	gate := swarm.ConsensusGate{Quorum: cfg.Swarm.Quorum, BlockingThreshold: blocking}

	// Sandbox and lineage.
	executor, err := sandbox.NewExecutor(sandbox.Options{
		WorkRoot:       cfg.Sandbox.WorkDir,
		RunTimeout:     cfg.Sandbox.RunTimeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		Resolver:       sandbox.NewTableResolver(),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("init executor: %w", err)
	}
	store, err := lineage.NewFileStore(cfg.Lineage.Dir)
	if err != nil {
		return fmt.Errorf("init lineage store: %w", err)
	}

	controller, err := feedback.NewController(feedback.Options{
		MaxAttempts: cfg.Swarm.MaxAttempts,
		Store:       store,
		Bus:         b,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("init feedback controller: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Squads:                 squads,
		Gate:                   gate,
		Executor:               executor,
		Controller:             controller,
		MaxArchitectureRetries: cfg.Swarm.MaxArchitectureRetries,
		Logger:                 logger,
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	go intakeLoop(ctx, b, orch, logger)

	srv, err := server.New(server.Options{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Runner:          orch,
		Store:           store,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	logger.Info(ctx, fmt.Sprintf("listening on :%d", cfg.Server.Port))
	return srv.Start(ctx)
}

// intakeLoop accepts tasks submitted over the bus, for callers that speak
// NATS instead of HTTP.
func intakeLoop(ctx context.Context, b *bus.Bus, orch *orchestrator.Orchestrator, logger *logging.Logger) {
	sub, err := b.Subscribe(swarm.TaskTopic(swarm.SquadArchitecture))
	if err != nil {
		logger.Error(ctx, "bus intake unavailable: "+err.Error())
		return
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			var task swarm.Task
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				logger.Warn(ctx, "malformed task on bus dropped")
				continue
			}
			go func() {
				if _, err := orch.Run(ctx, task, sandbox.Profile{}); err != nil {
					logger.Error(ctx, "pipeline failed: "+err.Error())
				}
			}()
		}
	}
}

// drainUndeliverable reports messages that expired with no subscriber.
func drainUndeliverable(ctx context.Context, b *bus.Bus, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-b.Undeliverable():
			if !ok {
				return
			}
			logger.Warn(ctx, "undeliverable message on "+u.Topic)
		}
	}
}
