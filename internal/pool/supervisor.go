package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrForcedStop is returned by Supervisor.Stop when a worker did not exit
// within its grace period and was terminated.
var ErrForcedStop = errors.New("worker force-terminated after grace period")

// Handle refers to one spawned worker.
type Handle interface {
	// ID is the worker's instance ID, which is also its claim owner.
	ID() string

	// Done is closed once the worker has exited for any reason.
	Done() <-chan struct{}

	// Err reports why the worker exited. Only meaningful after Done is closed.
	Err() error
}

// Supervisor starts and stops workers on some substrate. A worker's lifetime
// is not bound to the context passed to Spawn; it ends with Stop or a crash.
type Supervisor interface {
	Spawn(ctx context.Context, id string) (Handle, error)

	// Stop asks the worker to finish its current item and exit, and
	// terminates it if it is still running after grace. It returns
	// ErrForcedStop in that case.
	Stop(ctx context.Context, h Handle, grace time.Duration) error
}

// exitState is the part of a Handle shared by every substrate.
type exitState struct {
	id   string
	done chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

func newExitState(id string) *exitState {
	return &exitState{id: id, done: make(chan struct{})}
}

func (s *exitState) ID() string            { return s.id }
func (s *exitState) Done() <-chan struct{} { return s.done }

func (s *exitState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *exitState) exit(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// awaitExit waits for h to exit within grace. It calls terminate and waits
// again if the worker overruns, returning ErrForcedStop.
func awaitExit(ctx context.Context, h Handle, grace time.Duration, terminate func()) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	terminate()
	select {
	case <-h.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return ErrForcedStop
}
