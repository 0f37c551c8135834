package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/lmcbridge/internal/api"
	"github.com/mattjoyce/lmcbridge/internal/auth"
	"github.com/mattjoyce/lmcbridge/internal/config"
	"github.com/mattjoyce/lmcbridge/internal/driver"
	"github.com/mattjoyce/lmcbridge/internal/driverscript"
	"github.com/mattjoyce/lmcbridge/internal/events"
	"github.com/mattjoyce/lmcbridge/internal/lock"
	"github.com/mattjoyce/lmcbridge/internal/log"
	"github.com/mattjoyce/lmcbridge/internal/mocap"
	"github.com/mattjoyce/lmcbridge/internal/orchestrator"
	"github.com/mattjoyce/lmcbridge/internal/registry"
	"github.com/mattjoyce/lmcbridge/internal/supervisor"
	"github.com/mattjoyce/lmcbridge/internal/tui/watch"
)

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("lmcbridge starting", "version", version, "config", resolved)
	for _, w := range config.UnknownTypes(cfg) {
		logger.Warn("connection config warning", "detail", w)
	}

	pidLock, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := events.NewHub(cfg.Events.Buffer)
	reg := registry.New(hub)
	frames := mocap.NewQueue(cfg.Driver.QueueSize, hub, cfg.Events.FrameInterval)

	orchCfg := orchestrator.Config{
		Spawner: supervisor.ProcessSpawner{
			TerminationGrace: cfg.Driver.GraceOrDefault(),
			Logger:           log.WithComponent("process"),
		},
		Sink:      frames,
		NewFrame:  mocap.FactoryFor,
		Registry:  reg,
		Publisher: hub,
		Logger:    log.WithComponent("orchestrator"),
	}
	if cfg.Driver.Builtin {
		self, err := os.Executable()
		if err != nil {
			logger.Error("failed to locate lmcbridge executable for built-in driver", "error", err)
			return 1
		}
		orchCfg.Executable = self
		orchCfg.ScriptArg = "driver"
	} else {
		orchCfg.Executable = cfg.Driver.Interpreter
		orchCfg.Script = driverscript.Source
	}
	orch := orchestrator.New(orchCfg)

	g, gctx := errgroup.WithContext(ctx)

	// The frame consumer outlives the orchestrator so the API keeps serving
	// the last frames after every connection has closed.
	g.Go(func() error {
		return frames.Run(gctx)
	})

	g.Go(func() error {
		summary, err := orch.Run(gctx, cfg.Connections)
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		ended, failed, cancelled := summary.Counts()
		logger.Info("all connections closed", "total", len(summary.Connections),
			"ended", ended, "failed", failed, "cancelled", cancelled)
		for _, c := range summary.Connections {
			if c.Err != nil {
				logger.Warn("connection failed", "id", c.ID, "connection", c.Name,
					"kind", supervisor.Classify(c.Err), "error", c.Err)
			}
		}
		if !cfg.API.Enabled {
			stop()
		}
		return nil
	})

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, reg, frames, hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("lmcbridge running (press Ctrl+C to stop)")

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("lmcbridge stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Bridge API URL")
	apiKey := fs.String("api-key", os.Getenv("LMCBRIDGE_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or LMCBRIDGE_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// runDriver is the child side of the bridge when driver.builtin is set. It
// stops cleanly on SIGTERM so the parent's graceful termination succeeds.
func runDriver(args []string) int {
	// stdout carries the frame stream.
	log.SetupWriter(os.Stderr, os.Getenv("LMCBRIDGE_DRIVER_LOG_LEVEL"), "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return driver.Run(ctx, args, driver.BuiltinSDK{}, os.Stdout, os.Stderr)
}
