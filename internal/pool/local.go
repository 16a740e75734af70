package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner is a worker as the local substrate sees it. *task.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
}

// RunnerFactory builds the runner for a new worker instance.
type RunnerFactory func(id string) Runner

// LocalSupervisor runs each worker on its own goroutine.
type LocalSupervisor struct {
	newRunner RunnerFactory
	logger    *slog.Logger
}

var _ Supervisor = (*LocalSupervisor)(nil)

// NewLocalSupervisor creates a supervisor that builds workers with factory.
func NewLocalSupervisor(factory RunnerFactory, logger *slog.Logger) *LocalSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSupervisor{
		newRunner: factory,
		logger:    logger.With(slog.String("component", "local_supervisor")),
	}
}

type localHandle struct {
	*exitState
	runner Runner
	cancel context.CancelFunc
}

// Spawn starts a worker goroutine.
func (s *LocalSupervisor) Spawn(ctx context.Context, id string) (Handle, error) {
	r := s.newRunner(id)
	if r == nil {
		return nil, fmt.Errorf("spawn %s: factory returned no runner", id)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &localHandle{exitState: newExitState(id), runner: r, cancel: cancel}

	go func() {
		defer cancel()
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("worker panicked: %v", p)
				s.logger.Error("worker crashed", slog.String("worker_id", id), slog.Any("panic", p))
			}
			h.exit(err)
		}()
		err = r.Run(runCtx)
	}()

	return h, nil
}

// Stop gracefully stops a worker, cancelling its context after grace.
func (s *LocalSupervisor) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	lh, ok := h.(*localHandle)
	if !ok {
		return fmt.Errorf("stop %s: handle not owned by local supervisor", h.ID())
	}

	lh.runner.Stop()
	err := awaitExit(ctx, lh, grace, lh.cancel)
	if errors.Is(err, ErrForcedStop) {
		s.logger.Warn("worker force-stopped", slog.String("worker_id", h.ID()), slog.Duration("grace", grace))
	}
	return err
}
