package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/phrazzld/verifyd/internal/events"
)

// ProcessConfig describes how worker processes are launched.
type ProcessConfig struct {
	// Binary is the verifyd executable; empty means the running executable.
	Binary string

	// Args are passed before the worker subcommand, e.g. --config.
	Args []string

	BatchSize int

	// Stderr receives worker logs. Defaults to the manager's stderr.
	Stderr io.Writer
}

// ProcessSupervisor runs each worker as a `verifyd worker` child process.
// Worker lifecycle events arrive as JSON lines on the child's stdout and are
// forwarded to the configured emitter.
type ProcessSupervisor struct {
	cfg    ProcessConfig
	events events.EventEmitter
	logger *slog.Logger
}

var _ Supervisor = (*ProcessSupervisor)(nil)

// NewProcessSupervisor creates a process supervisor. Events decoded from
// worker output are sent to out.
func NewProcessSupervisor(cfg ProcessConfig, out events.EventEmitter, logger *slog.Logger) (*ProcessSupervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = events.Discard
	}
	if cfg.Binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		cfg.Binary = exe
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &ProcessSupervisor{
		cfg:    cfg,
		events: out,
		logger: logger.With(slog.String("component", "process_supervisor")),
	}, nil
}

type processHandle struct {
	*exitState
	cmd *exec.Cmd
}

func (s *ProcessSupervisor) command(id string) *exec.Cmd {
	args := append([]string{}, s.cfg.Args...)
	args = append(args, "worker", "--id", id)
	if s.cfg.BatchSize > 0 {
		args = append(args, "--batch-size", strconv.Itoa(s.cfg.BatchSize))
	}
	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Stderr = s.cfg.Stderr
	return cmd
}

// Spawn starts a worker process.
func (s *ProcessSupervisor) Spawn(ctx context.Context, id string) (Handle, error) {
	cmd := s.command(id)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}

	h := &processHandle{exitState: newExitState(id), cmd: cmd}
	log := s.logger.With(slog.String("worker_id", id), slog.Int("pid", cmd.Process.Pid))
	log.Debug("worker process started")

	decodeCtx := context.WithoutCancel(ctx)
	go func() {
		// Wait closes the pipe, so drain it first.
		if err := events.Decode(decodeCtx, stdout, s.events, log); err != nil {
			log.Warn("worker event stream ended with error", slog.String("error", err.Error()))
		}
		err := cmd.Wait()
		if err != nil {
			log.Warn("worker process exited", slog.String("error", err.Error()))
		} else {
			log.Debug("worker process exited")
		}
		h.exit(err)
	}()

	return h, nil
}

// Stop sends SIGINT and kills the process if it outlives grace.
func (s *ProcessSupervisor) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	ph, ok := h.(*processHandle)
	if !ok {
		return fmt.Errorf("stop %s: handle not owned by process supervisor", h.ID())
	}

	if err := ph.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("failed to signal worker",
			slog.String("worker_id", h.ID()),
			slog.String("error", err.Error()))
	}

	err := awaitExit(ctx, ph, grace, func() {
		if err := ph.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Error("failed to kill worker",
				slog.String("worker_id", h.ID()),
				slog.String("error", err.Error()))
		}
	})
	if errors.Is(err, ErrForcedStop) {
		s.logger.Warn("worker killed after grace period",
			slog.String("worker_id", h.ID()),
			slog.Duration("grace", grace))
	}
	return err
}
