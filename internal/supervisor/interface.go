package supervisor

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mattjoyce/lmcbridge/internal/process"
)

//go:generate mockgen -destination=mocks/mock_supervisor.go -package=mocks github.com/mattjoyce/lmcbridge/internal/supervisor Spawner,Observer

// Spawner launches the driver process for a connection.
type Spawner interface {
	Spawn(ctx context.Context, executable string, args []string) (io.ReadWriteCloser, error)
}

// Observer is told about lifecycle transitions and delivered frames.
type Observer interface {
	OnState(id string, state State, outcome Outcome, err error)
	OnFrame(id string)
}

// ProcessSpawner spawns real child processes.
type ProcessSpawner struct {
	TerminationGrace time.Duration
	Env              []string
	Logger           *slog.Logger
}

// Spawn implements Spawner.
func (s ProcessSpawner) Spawn(ctx context.Context, executable string, args []string) (io.ReadWriteCloser, error) {
	return process.Spawn(ctx, process.Config{
		Executable:       executable,
		Args:             args,
		Env:              s.Env,
		TerminationGrace: s.TerminationGrace,
		Logger:           s.Logger,
	})
}
