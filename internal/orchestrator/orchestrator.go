// Package orchestrator runs one supervised driver process per configured
// connection and fans their frames into a single sink.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/lmcbridge/internal/config"
	"github.com/mattjoyce/lmcbridge/internal/driverscript"
	"github.com/mattjoyce/lmcbridge/internal/events"
	"github.com/mattjoyce/lmcbridge/internal/log"
	"github.com/mattjoyce/lmcbridge/internal/registry"
	"github.com/mattjoyce/lmcbridge/internal/supervisor"
	"github.com/mattjoyce/lmcbridge/internal/translator"
)

// Config wires an Orchestrator.
type Config struct {
	// Executable runs the driver, normally a Python interpreter.
	Executable string

	// Script is extracted to a temporary file once per Run and passed as the
	// first driver argument. It is ignored when ScriptArg is set.
	Script       []byte
	ScriptSuffix string
	// ScriptArg replaces the extracted script path, e.g. "driver" when
	// Executable is the lmcbridge binary itself.
	ScriptArg string

	Spawner  supervisor.Spawner
	Sink     translator.Sink
	NewFrame func(id string) translator.Factory

	Registry  *registry.Registry // optional
	Publisher events.Publisher   // optional
	Logger    *slog.Logger
}

// Orchestrator runs a set of connections as one group.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	// releases drops the previous run's registry entries. They stay visible
	// after Run returns so terminal failures can still be inspected.
	releases []func()
}

// ConnectionResult is the final state of one supervised connection.
type ConnectionResult struct {
	ID   string
	Name string
	Type string
	supervisor.Result
}

// Summary describes a finished Run. It is built from the supervisors' own
// results and does not depend on the registry.
type Summary struct {
	RunID       string
	Connections []ConnectionResult
}

// Counts tallies the outcomes in s.
func (s Summary) Counts() (ended, failed, cancelled int) {
	for _, c := range s.Connections {
		switch c.Outcome {
		case supervisor.OutcomeEnded:
			ended++
		case supervisor.OutcomeFailed:
			failed++
		case supervisor.OutcomeCancelled:
			cancelled++
		}
	}
	return ended, failed, cancelled
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("orchestrator")
	}
	if cfg.ScriptSuffix == "" {
		cfg.ScriptSuffix = ".py"
	}
	return &Orchestrator{cfg: cfg, logger: logger}
}

// ConnectionID is the registry id of the connection at index.
func ConnectionID(index int) string {
	return "lmc/" + strconv.Itoa(index)
}

// DisplayName is the configured name, or a generated one.
func DisplayName(index int, spec config.ConnectionSpec) string {
	if spec.Name != "" {
		return spec.Name
	}
	return fmt.Sprintf("Mocap connection %d (%s)", index, spec.Type)
}

// Run supervises every spec until all connections have closed or ctx is
// cancelled. A failing connection does not affect its siblings. Run returns
// only after every driver process has been terminated.
func (o *Orchestrator) Run(ctx context.Context, specs []config.ConnectionSpec) (Summary, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	summary := Summary{RunID: runID}

	if o.cfg.Sink == nil || o.cfg.NewFrame == nil {
		return summary, fmt.Errorf("orchestrator needs a frame sink and factory")
	}
	o.releasePrevious()
	if len(specs) == 0 {
		logger.Info("No libmotioncapture connections configured")
		return summary, nil
	}

	script := o.cfg.ScriptArg
	if script == "" {
		artifact, err := driverscript.Extract(o.cfg.Script, o.cfg.ScriptSuffix)
		if err != nil {
			return summary, fmt.Errorf("extract driver script: %w", err)
		}
		defer artifact.Remove()
		script = artifact.Path
		logger.Debug("extracted driver script", "path", artifact.Path, "blake3", artifact.Digest)
	}

	g, gctx := errgroup.WithContext(ctx)

	var releases []func()
	results := make([]*ConnectionResult, len(specs))
	for index, spec := range specs {
		if spec.Type == "" {
			logger.Error(fmt.Sprintf("Connection specification #%d has no type", index))
			continue
		}

		id := ConnectionID(index)
		name := DisplayName(index, spec)

		var observer supervisor.Observer
		if o.cfg.Registry != nil {
			releases = append(releases, o.cfg.Registry.Use(id, name, spec.Type))
			observer = o.cfg.Registry
		}

		sup := supervisor.New(supervisor.Config{
			ID:         id,
			Name:       name,
			Executable: o.cfg.Executable,
			Args:       supervisor.BuildArgs(script, spec),
			Spawner:    o.cfg.Spawner,
			NewFrame:   o.cfg.NewFrame(id),
			Sink:       o.cfg.Sink,
			Observer:   observer,
			Logger:     log.WithConnection(id, name).With("run_id", runID),
		})

		result := &ConnectionResult{ID: id, Name: name, Type: spec.Type}
		results[index] = result

		// Supervisors contain their own failures so the group never cancels siblings.
		g.Go(func() error {
			result.Result = sup.Run(gctx)
			return nil
		})
	}

	o.mu.Lock()
	o.releases = releases
	o.mu.Unlock()

	count := 0
	for _, r := range results {
		if r != nil {
			count++
		}
	}
	switch {
	case count > 1:
		logger.Info(fmt.Sprintf("Using %d libmotioncapture connections", count))
	case count == 1:
		logger.Info("Using libmotioncapture connection")
	}
	o.publish(events.BridgeStarted, map[string]any{"run_id": runID, "connections": count})

	err := g.Wait()

	for _, r := range results {
		if r != nil {
			summary.Connections = append(summary.Connections, *r)
		}
	}
	ended, failed, cancelled := summary.Counts()
	logger.Info("libmotioncapture connections closed",
		"total", len(summary.Connections), "ended", ended, "failed", failed, "cancelled", cancelled)
	o.publish(events.BridgeStopped, map[string]any{
		"run_id": runID, "ended": ended, "failed": failed, "cancelled": cancelled,
	})
	return summary, err
}

// releasePrevious drops the registry entries left by the previous Run.
func (o *Orchestrator) releasePrevious() {
	o.mu.Lock()
	releases := o.releases
	o.releases = nil
	o.mu.Unlock()
	for _, release := range releases {
		release()
	}
}

func (o *Orchestrator) publish(eventType string, data any) {
	if o.cfg.Publisher != nil {
		o.cfg.Publisher.Publish(eventType, data)
	}
}
