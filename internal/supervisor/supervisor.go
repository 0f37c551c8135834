// Package supervisor drives one mocap connection from process spawn to teardown.
//
// Lifecycle:
//
//	starting → running → closing → closed
//
// A spawn failure goes from starting straight to closing. Whatever ends the
// connection (end of driver output, a driver-reported error, a protocol fault,
// cancellation or a panic in the pipeline), the process is terminated exactly
// once and the supervisor reaches closed. Failures are logged here and never
// propagated to sibling connections; restarting is left to the caller.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/mattjoyce/lmcbridge/internal/channel"
	"github.com/mattjoyce/lmcbridge/internal/config"
	"github.com/mattjoyce/lmcbridge/internal/log"
	"github.com/mattjoyce/lmcbridge/internal/process"
	"github.com/mattjoyce/lmcbridge/internal/protocol"
	"github.com/mattjoyce/lmcbridge/internal/translator"
)

// State is a lifecycle state of a connection.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateClosing  State = "closing"
	StateClosed   State = "closed"
)

// Outcome says why a connection closed.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeEnded     Outcome = "ended"     // driver closed its output without an error
	OutcomeCancelled Outcome = "cancelled" // the bridge is shutting down
	OutcomeFailed    Outcome = "failed"
)

// UnexpectedError wraps a panic recovered from the frame pipeline.
type UnexpectedError struct {
	Value any
	Stack []byte
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected panic: %v", e.Value)
}

// Result summarizes a finished Run.
type Result struct {
	Outcome Outcome
	Err     error
	Frames  int64
}

// Config describes one supervised connection.
type Config struct {
	ID         string
	Name       string
	Executable string
	Args       []string

	Spawner  Spawner
	NewFrame translator.Factory
	Sink     translator.Sink
	Observer Observer // optional
	Logger   *slog.Logger
}

// Supervisor runs one connection. A Supervisor is single use.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	frames atomic.Int64
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithConnection(cfg.ID, cfg.Name)
	}
	if cfg.Spawner == nil {
		cfg.Spawner = ProcessSpawner{Logger: logger}
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// BuildArgs derives the driver arguments for spec: the script path, one
// "-p key=value" pair per option in configuration order, then the type.
func BuildArgs(script string, spec config.ConnectionSpec) []string {
	args := make([]string, 0, 2+2*len(spec.Params))
	args = append(args, script)
	for _, p := range spec.Params {
		args = append(args, "-p", p.Key+"="+p.Value)
	}
	return append(args, spec.Type)
}

// Frames returns the number of frames delivered so far.
func (s *Supervisor) Frames() int64 { return s.frames.Load() }

// Run supervises the connection until it closes. It always returns after the
// driver process has been terminated.
func (s *Supervisor) Run(ctx context.Context) Result {
	s.transition(StateStarting, OutcomeNone, nil)

	conn, err := s.cfg.Spawner.Spawn(ctx, s.cfg.Executable, s.cfg.Args)
	if err != nil {
		if ctx.Err() != nil {
			s.transition(StateClosing, OutcomeCancelled, nil)
			s.transition(StateClosed, OutcomeCancelled, nil)
			return Result{Outcome: OutcomeCancelled}
		}
		s.logger.Error(fmt.Sprintf("Failed to start libmotioncapture process for %q", s.cfg.Name),
			"error", err, "kind", Classify(err))
		s.transition(StateClosing, OutcomeFailed, err)
		s.transition(StateClosed, OutcomeFailed, err)
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	res := s.serve(ctx, conn)
	res.Frames = s.frames.Load()
	return res
}

func (s *Supervisor) serve(ctx context.Context, conn io.ReadWriteCloser) (res Result) {
	ch := channel.New(conn, protocol.DecodeMessage)

	defer func() {
		s.transition(StateClosing, res.Outcome, res.Err)
		s.logger.Info(fmt.Sprintf("Connection to libmotioncapture process closed for %q", s.cfg.Name),
			"outcome", res.Outcome, "frames", s.frames.Load())
		// Closing the channel terminates and reaps the process.
		if err := ch.Close(); err != nil {
			s.logger.Warn("failed to terminate driver process", "error", err)
		}
		s.transition(StateClosed, res.Outcome, res.Err)
	}()

	s.logger.Info(fmt.Sprintf("Started libmotioncapture process for %q", s.cfg.Name), "semantics", "success")
	s.transition(StateRunning, OutcomeNone, nil)

	err := s.pump(ctx, ch)
	switch {
	case err == nil:
		s.logger.Info("driver process ended its output")
		return Result{Outcome: OutcomeEnded}

	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return Result{Outcome: OutcomeCancelled}
	}

	s.logFailure(conn, err)
	return Result{Outcome: OutcomeFailed, Err: err}
}

// pump moves frames from the channel to the sink until the channel ends.
func (s *Supervisor) pump(ctx context.Context, ch *channel.Channel[protocol.Message]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnexpectedError{Value: r, Stack: debug.Stack()}
		}
	}()

	for msg, err := range ch.Messages(ctx) {
		if err != nil {
			return err
		}
		frame, err := translator.Translate(msg, s.cfg.NewFrame)
		if err != nil {
			return err
		}
		s.cfg.Sink.Enqueue(frame)
		s.frames.Add(1)
		if s.cfg.Observer != nil {
			s.cfg.Observer.OnFrame(s.cfg.ID)
		}
	}
	return nil
}

func (s *Supervisor) logFailure(conn io.ReadWriteCloser, err error) {
	kind := Classify(err)
	if kind != KindUnexpected {
		s.logger.Error(err.Error(), "kind", kind)
		return
	}

	attrs := []any{"error", err, "kind", kind}
	var unexpected *UnexpectedError
	if errors.As(err, &unexpected) {
		attrs = append(attrs, "stack", string(unexpected.Stack))
	}
	if p, ok := conn.(interface{ Stderr() string }); ok {
		if tail := p.Stderr(); tail != "" {
			attrs = append(attrs, "stderr", tail)
		}
	}
	s.logger.Error(fmt.Sprintf("Unexpected error while handling libmotioncapture connection %q", s.cfg.Name), attrs...)
}

func (s *Supervisor) transition(state State, outcome Outcome, err error) {
	s.logger.Debug("connection state", "state", state, "outcome", outcome)
	if s.cfg.Observer != nil {
		s.cfg.Observer.OnState(s.cfg.ID, state, outcome, err)
	}
}

// ErrorKind classifies connection failures for logs and status reporting.
type ErrorKind string

const (
	KindSpawn      ErrorKind = "spawn"
	KindDecode     ErrorKind = "decode"
	KindProtocol   ErrorKind = "protocol"
	KindRemote     ErrorKind = "remote"
	KindUnexpected ErrorKind = "unexpected"
)

// Classify maps err onto the connection error taxonomy.
func Classify(err error) ErrorKind {
	var (
		spawnErr    *process.SpawnError
		decodeErr   *protocol.DecodeError
		protocolErr *protocol.ProtocolError
		remoteErr   *protocol.RemoteError
	)
	switch {
	case errors.As(err, &spawnErr):
		return KindSpawn
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &protocolErr):
		return KindProtocol
	case errors.As(err, &remoteErr):
		return KindRemote
	default:
		return KindUnexpected
	}
}
