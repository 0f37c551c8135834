// Package process launches a driver helper and exposes its stdio as a duplex stream.
//
// A Process reads from the child's stdout and writes to its stdin, so it can be
// handed straight to a channel.Channel. Terminate (also reachable through Close)
// follows the same escalation the gateway used for plugins:
//
//   - stdin is closed so a cooperative child can exit on its own
//   - SIGTERM is sent
//   - after the grace period, SIGKILL is sent
//   - the child is always reaped before Terminate returns
//
// The child leads its own process group and signals go to the whole group, so
// helpers it forks do not outlive it.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/lmcbridge/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr retained from the driver.
	maxStderrBytes = 64 * 1024

	// DefaultTerminationGrace is the time we wait after SIGTERM before sending SIGKILL.
	DefaultTerminationGrace = 5 * time.Second
)

// SpawnError reports that the driver process could not be started.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Executable, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Config describes the process to launch.
type Config struct {
	Executable       string
	Args             []string
	Env              []string // nil inherits the parent environment
	Dir              string
	TerminationGrace time.Duration
	Logger           *slog.Logger
}

// Process is a running driver child.
type Process struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *tailWriter

	grace  time.Duration
	logger *slog.Logger

	done    chan struct{}
	waitErr error

	termOnce sync.Once
	termErr  error
}

// Spawn starts the process described by cfg.
// Failures to launch are returned as *SpawnError.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: err}
	}
	if cfg.Executable == "" {
		return nil, &SpawnError{Err: errors.New("no executable configured")}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("process")
	}
	grace := cfg.TerminationGrace
	if grace <= 0 {
		grace = DefaultTerminationGrace
	}

	// Don't use CommandContext: termination is escalated by Terminate.
	cmd := exec.Command(cfg.Executable, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.Dir
	cmd.WaitDelay = grace
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Explicit pipes rather than StdoutPipe: Wait must not close our read end
	// before the last line written by the child has been consumed.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Executable: cfg.Executable, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return nil, &SpawnError{Executable: cfg.Executable, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	stderr := newTailWriter(maxStderrBytes, logger)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	logger.Debug("spawning driver process", "executable", cfg.Executable, "args", cfg.Args)

	startErr := cmd.Start()
	// The child holds its own copies now.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	if startErr != nil {
		_ = stdinW.Close()
		_ = stdoutR.Close()
		return nil, &SpawnError{Executable: cfg.Executable, Err: startErr}
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		stderr: stderr,
		grace:  grace,
		logger: logger.With("pid", cmd.Process.Pid),
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		stderr.Flush()
		close(p.done)
	}()

	return p, nil
}

// Read reads from the child's stdout.
func (p *Process) Read(b []byte) (int, error) { return p.stdout.Read(b) }

// Write writes to the child's stdin.
func (p *Process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close terminates the child. See Terminate.
func (p *Process) Close() error { return p.Terminate() }

// Pid returns the child's process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Alive reports whether the child is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the child's exit code, or -1 while it runs or if it was killed by a signal.
func (p *Process) ExitCode() int {
	if p.Alive() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Stderr returns the retained tail of the child's stderr.
func (p *Process) Stderr() string { return p.stderr.String() }

// Terminate stops the child and waits for it to exit. Only the first call does
// anything; later calls return the first call's result. A child that has already
// exited is simply reaped.
func (p *Process) Terminate() error {
	p.termOnce.Do(func() {
		p.termErr = p.terminate()
	})
	return p.termErr
}

func (p *Process) terminate() error {
	_ = p.stdin.Close()
	defer p.stdout.Close()
	// Whatever is left of the group once the leader is gone.
	defer p.signalGroup(syscall.SIGKILL)

	select {
	case <-p.done:
		p.logExit()
		return nil
	default:
	}

	if err := p.signalGroup(syscall.SIGTERM); err != nil {
		p.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.grace)
	defer grace.Stop()

	select {
	case <-p.done:
		p.logger.Debug("driver process exited after SIGTERM")
	case <-grace.C:
		p.logger.Warn("driver process did not exit after SIGTERM, sending SIGKILL")
		if err := p.signalGroup(syscall.SIGKILL); err != nil {
			p.logger.Error("failed to send SIGKILL", "error", err)
			<-p.done
			return fmt.Errorf("kill driver process: %w", err)
		}
		<-p.done
	}
	return nil
}

// signalGroup sends sig to the child's process group. A group with no members
// left is not an error.
func (p *Process) signalGroup(sig syscall.Signal) error {
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (p *Process) logExit() {
	var exitErr *exec.ExitError
	switch {
	case p.waitErr == nil:
		p.logger.Debug("driver process exited", "exit_code", 0)
	case errors.As(p.waitErr, &exitErr):
		p.logger.Debug("driver process exited with non-zero status", "exit_code", exitErr.ExitCode())
	default:
		p.logger.Warn("wait for driver process", "error", p.waitErr)
	}
}
