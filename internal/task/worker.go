package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/oracle"
	"github.com/phrazzld/verifyd/internal/redact"
	"github.com/phrazzld/verifyd/internal/store"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// State is a worker's position in its claim loop.
type State string

// Worker states.
const (
	StateIdle           State = "idle"
	StateClaimingBatch  State = "claiming_batch"
	StateProcessingItem State = "processing_item"
	StateBackingOff     State = "backing_off"
	StateStopped        State = "stopped"
)

// backoffJitterPercent spreads retries of workers that went idle together.
const backoffJitterPercent = 20

// ErrAlreadyRunning is returned when Run is called on a worker that has already started.
var ErrAlreadyRunning = errors.New("worker already running")

// errAborted signals that the run context was cancelled mid-item. The task
// stays claimed and is left to the reclaimer.
var errAborted = errors.New("item aborted")

// errClaimLost means the task was reclaimed from this worker mid-item.
var errClaimLost = errors.New("claim lost")

// Deps are the shared services a worker talks to.
type Deps struct {
	Tasks   store.TaskStore
	Tenants store.TenantStore
	Ledger  store.CreditLedger
	Oracle  oracle.Oracle
	Events  events.EventEmitter
}

// Worker claims and processes batches of tasks until stopped.
// All coordination with other workers happens through the store.
type Worker struct {
	id      string
	deps    Deps
	cfg     WorkerConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	state     atomic.Value
	processed atomic.Int64
	running   atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker identified by id. If deps.Events is nil, events are discarded.
func NewWorker(id string, deps Deps, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	cfg = cfg.withDefaults()

	w := &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("worker_id", id)),
		stopCh: make(chan struct{}),
	}
	if cfg.ItemInterval > 0 {
		w.limiter = rate.NewLimiter(rate.Every(cfg.ItemInterval), 1)
	}
	w.state.Store(StateIdle)
	return w
}

// ID returns the worker's identity, which is also its claim owner.
func (w *Worker) ID() string { return w.id }

// State returns the current state.
func (w *Worker) State() State { return w.state.Load().(State) }

// Processed returns how many items this worker has settled.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Stop requests a graceful stop: the current item finishes, the rest of the
// batch is released to pending and Run returns nil. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) setState(s State) { w.state.Store(s) }

// Run executes the claim loop until Stop is called (returns nil) or ctx is
// cancelled (returns the context error). Cancelling ctx is a forced stop:
// the current item is abandoned and its claim is healed by the reclaimer.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.setState(StateStopped)

	w.logger.Info("worker started", slog.Int("batch_size", w.cfg.BatchSize))
	w.emit(ctx, &events.WorkerEvent{Type: events.WorkerStarted})
	defer func() {
		w.emit(context.WithoutCancel(ctx), &events.WorkerEvent{
			Type:  events.WorkerStopped,
			Count: int(w.Processed()),
		})
		w.logger.Info("worker stopped", slog.Int64("processed", w.Processed()))
	}()

	w.startupSweep(ctx)

	backoff := w.newBackoff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.stopping() {
			return nil
		}

		w.setState(StateClaimingBatch)
		batch, err := w.deps.Tasks.ClaimBatch(ctx, w.id, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("claim failed", slog.String("error", redact.Error(err)))
			w.emit(ctx, &events.WorkerEvent{Type: events.ClaimFailed})
			if !w.backOff(ctx, backoff) {
				return ctx.Err()
			}
			continue
		}

		if len(batch) == 0 {
			w.emit(ctx, &events.WorkerEvent{Type: events.ClaimEmpty})
			if !w.backOff(ctx, backoff) {
				return ctx.Err()
			}
			continue
		}

		backoff = w.newBackoff()
		w.logger.Debug("claimed batch", slog.Int("count", len(batch)))
		w.emit(ctx, &events.WorkerEvent{Type: events.BatchClaimed, Count: len(batch)})

		err = w.processBatch(ctx, batch)
		switch {
		case errors.Is(err, errAborted) || ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			w.logger.Warn("batch aborted", slog.String("error", redact.Error(err)))
			if !w.backOff(ctx, backoff) {
				return ctx.Err()
			}
			continue
		}

		w.emit(ctx, &events.WorkerEvent{Type: events.BatchDone, Count: int(w.Processed())})
		w.setState(StateIdle)
	}
}

// processBatch works through a claimed batch in order. Before each item the
// claims still held are renewed, so a live worker keeps its batch away from
// the reclaimer for as long as it takes; tasks that were reclaimed anyway are
// dropped. A store failure aborts the batch and releases whatever is still
// claimed.
func (w *Worker) processBatch(ctx context.Context, batch []*domain.Task) error {
	held := batch
	for len(held) > 0 {
		if ctx.Err() != nil {
			return errAborted
		}
		if w.stopping() {
			w.release(ctx, held)
			return nil
		}

		renewed, err := w.renew(ctx, held)
		if err != nil {
			if ctx.Err() != nil {
				return errAborted
			}
			w.release(ctx, held)
			return err
		}
		held = renewed
		if len(held) == 0 {
			return nil
		}

		w.setState(StateProcessingItem)
		if err := w.processItem(ctx, held[0]); err != nil {
			if errors.Is(err, errAborted) || ctx.Err() != nil {
				return errAborted
			}
			w.release(ctx, held)
			return err
		}
		held = held[1:]
	}
	return nil
}

// renew refreshes the claims on tasks and returns, in batch order, the ones
// this worker still holds.
func (w *Worker) renew(ctx context.Context, tasks []*domain.Task) ([]*domain.Task, error) {
	renewed, err := w.deps.Tasks.RenewClaims(ctx, w.id, taskIDs(tasks)...)
	if err != nil {
		return nil, fmt.Errorf("renew claims: %w", err)
	}
	if len(renewed) == len(tasks) {
		return tasks, nil
	}

	keep := make(map[uuid.UUID]struct{}, len(renewed))
	for _, id := range renewed {
		keep[id] = struct{}{}
	}
	held := make([]*domain.Task, 0, len(renewed))
	for _, t := range tasks {
		if _, ok := keep[t.ID]; ok {
			held = append(held, t)
			continue
		}
		w.logger.Warn("claim lost, skipping task", slog.String("task_id", t.ID.String()))
	}
	return held, nil
}

func taskIDs(tasks []*domain.Task) []uuid.UUID {
	ids := make([]uuid.UUID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// release returns claims to pending. Failures are logged; the reclaimer
// heals anything left behind.
func (w *Worker) release(ctx context.Context, remaining []*domain.Task) {
	if len(remaining) == 0 {
		return
	}
	ids := taskIDs(remaining)
	released, err := w.deps.Tasks.ReleaseClaims(ctx, w.id, ids...)
	if err != nil {
		w.logger.Warn("failed to release claims",
			slog.Int("count", len(ids)),
			slog.String("error", redact.Error(err)))
		return
	}
	w.logger.Info("released claims", slog.Int64("count", released))
}

func (w *Worker) startupSweep(ctx context.Context) {
	if w.cfg.StaleThreshold <= 0 {
		return
	}
	n, err := w.deps.Tasks.ReclaimStale(ctx, w.cfg.StaleThreshold)
	if err != nil {
		w.logger.Warn("startup sweep failed", slog.String("error", redact.Error(err)))
		return
	}
	if n > 0 {
		w.logger.Info("startup sweep reclaimed stale tasks", slog.Int64("count", n))
	}
}

func (w *Worker) newBackoff() retry.Backoff {
	b := retry.NewExponential(w.cfg.IdleBackoff)
	b = retry.WithCappedDuration(w.cfg.MaxBackoff, b)
	return retry.WithJitterPercent(backoffJitterPercent, b)
}

// backOff sleeps for the next backoff interval. It reports false when the
// run context was cancelled; a graceful stop wakes it early and reports true
// so the loop can exit cleanly.
func (w *Worker) backOff(ctx context.Context, b retry.Backoff) bool {
	w.setState(StateBackingOff)
	delay, stop := b.Next()
	if stop {
		delay = w.cfg.MaxBackoff
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return true
	case <-timer.C:
		return true
	}
}

func (w *Worker) emit(ctx context.Context, e *events.WorkerEvent) {
	e.WorkerID = w.id
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := w.deps.Events.EmitEvent(ctx, e); err != nil {
		w.logger.Debug("failed to emit worker event",
			slog.String("event_type", string(e.Type)),
			slog.String("error", err.Error()))
	}
}
