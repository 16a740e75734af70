package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/config"
	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/redact"
	"github.com/phrazzld/verifyd/internal/store"
	"github.com/phrazzld/verifyd/internal/task"
	"golang.org/x/sync/errgroup"
)

// Scale-down orders.
const (
	ScaleDownLIFO = "lifo"
	ScaleDownFIFO = "fifo"
)

// Liveness is the manager's view of a worker.
type Liveness string

// Liveness values.
const (
	LivenessStarting Liveness = "starting"
	LivenessBusy     Liveness = "busy"
	LivenessIdle     Liveness = "idle"
	LivenessStopping Liveness = "stopping"
	LivenessExited   Liveness = "exited"
)

// WorkerDescriptor is the manager's bookkeeping for one worker. It is never
// persisted and carries no ownership of tasks.
type WorkerDescriptor struct {
	ID        string    `json:"id"`
	SpawnedAt time.Time `json:"spawned_at"`
	Processed int64     `json:"processed"`
	Liveness  Liveness  `json:"liveness"`
	LastSeen  time.Time `json:"last_seen"`
}

// ManagerConfig tunes a Manager.
type ManagerConfig struct {
	Sizing
	ControlPeriod     time.Duration
	SpawnStagger      time.Duration
	StopGrace         time.Duration
	ScaleDownOrder    string
	BatchCoordination bool
}

// NewManagerConfig derives manager settings from application configuration.
func NewManagerConfig(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		Sizing: Sizing{
			MinWorkers:     cfg.Pool.MinWorkers,
			MaxWorkers:     cfg.Pool.MaxWorkers,
			TasksPerWorker: cfg.Pool.TasksPerWorker,
		},
		ControlPeriod:     cfg.Pool.ControlPeriod,
		SpawnStagger:      cfg.Pool.SpawnStagger,
		StopGrace:         cfg.Pool.StopGrace,
		ScaleDownOrder:    cfg.Pool.ScaleDownOrder,
		BatchCoordination: cfg.Pool.BatchCoordination,
	}
}

// Status is a point-in-time view of the pool.
type Status struct {
	Backlog     store.Backlog      `json:"backlog"`
	Desired     int                `json:"desired"`
	Workers     []WorkerDescriptor `json:"workers"`
	LastTick    time.Time          `json:"last_tick"`
	LastTickErr string             `json:"last_tick_error,omitempty"`
}

type member struct {
	desc      WorkerDescriptor
	seq       int
	handle    Handle
	lastEvent events.EventType
}

// Manager keeps the fleet sized to the backlog.
type Manager struct {
	tasks     store.TaskStore
	sup       Supervisor
	reclaimer *task.Reclaimer
	cfg       ManagerConfig
	logger    *slog.Logger

	mu      sync.Mutex
	members map[string]*member
	seq     int
	status  Status

	stops sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithReclaimer has the manager run r for as long as Run is active.
func WithReclaimer(r *task.Reclaimer) Option {
	return func(m *Manager) { m.reclaimer = r }
}

// NewManager creates a manager that reads the backlog from tasks and
// drives workers through sup.
func NewManager(tasks store.TaskStore, sup Supervisor, cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ControlPeriod <= 0 {
		cfg.ControlPeriod = 30 * time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}
	if cfg.ScaleDownOrder == "" {
		cfg.ScaleDownOrder = ScaleDownLIFO
	}

	m := &Manager{
		tasks:   tasks,
		sup:     sup,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "pool_manager")),
		members: make(map[string]*member),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run reconciles immediately and then every control period until ctx is
// cancelled, after which it stops the fleet gracefully.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("pool manager started",
		slog.Int("min_workers", m.cfg.MinWorkers),
		slog.Int("max_workers", m.cfg.MaxWorkers),
		slog.Int("tasks_per_worker", m.cfg.TasksPerWorker),
		slog.Duration("control_period", m.cfg.ControlPeriod))

	var bg sync.WaitGroup
	if m.reclaimer != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			m.reclaimer.Run(ctx)
		}()
	}

	ticker := time.NewTicker(m.cfg.ControlPeriod)
	defer ticker.Stop()

	for {
		_ = m.Reconcile(ctx)
		select {
		case <-ctx.Done():
			bg.Wait()
			return m.Shutdown(context.WithoutCancel(ctx))
		case <-ticker.C:
		}
	}
}

// Reconcile performs one control tick: reap exited workers, read the backlog
// and spawn or stop the difference. A backlog read failure skips the tick.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.reap()

	backlog, err := m.tasks.Backlog(ctx)
	if err != nil {
		m.logger.Warn("backlog read failed; skipping tick", slog.String("error", redact.Error(err)))
		m.mu.Lock()
		m.status.LastTick = time.Now().UTC()
		m.status.LastTickErr = redact.Error(err)
		m.mu.Unlock()
		return fmt.Errorf("read backlog: %w", err)
	}

	desired := DesiredWorkers(backlog, m.cfg.Sizing)

	m.mu.Lock()
	m.status.Backlog = backlog
	m.status.Desired = desired
	m.status.LastTick = time.Now().UTC()
	m.status.LastTickErr = ""
	active := m.activeLocked()
	// Nothing left to claim: leave the workers that are finishing batches alone.
	if backlog.Pending == 0 && backlog.Processing > 0 && len(active) > desired {
		desired = len(active)
		m.status.Desired = desired
	}
	frozen := m.cfg.BatchCoordination && len(active) != desired && !allIdle(active)
	m.mu.Unlock()

	m.logger.Info("pool status",
		slog.Int64("pending", backlog.Pending),
		slog.Int64("processing", backlog.Processing),
		slog.Int("active", len(active)),
		slog.Int("desired", desired))

	if frozen {
		m.logger.Debug("resize deferred until every worker reports an empty claim")
		return nil
	}

	switch {
	case desired > len(active):
		return m.scaleUp(ctx, desired-len(active))
	case desired < len(active):
		m.scaleDown(ctx, active, len(active)-desired)
	}
	return nil
}

func (m *Manager) scaleUp(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if i > 0 && m.cfg.SpawnStagger > 0 {
			timer := time.NewTimer(m.cfg.SpawnStagger)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		seq, id := m.nextID()
		h, err := m.sup.Spawn(ctx, id)
		if err != nil {
			m.logger.Error("failed to spawn worker", slog.String("worker_id", id), slog.String("error", err.Error()))
			return fmt.Errorf("spawn worker: %w", err)
		}

		now := time.Now().UTC()
		m.mu.Lock()
		m.members[id] = &member{
			desc: WorkerDescriptor{
				ID:        id,
				SpawnedAt: now,
				Liveness:  LivenessStarting,
				LastSeen:  now,
			},
			seq:    seq,
			handle: h,
		}
		m.mu.Unlock()
		m.logger.Info("spawned worker", slog.String("worker_id", id))
	}
	return nil
}

// scaleDown stops n of the active workers in the background.
func (m *Manager) scaleDown(ctx context.Context, active []*member, n int) {
	sort.Slice(active, func(i, j int) bool {
		if m.cfg.ScaleDownOrder == ScaleDownFIFO {
			return active[i].seq < active[j].seq
		}
		return active[i].seq > active[j].seq
	})

	stopCtx := context.WithoutCancel(ctx)
	for _, mem := range active[:n] {
		m.mu.Lock()
		mem.desc.Liveness = LivenessStopping
		m.mu.Unlock()

		m.stops.Add(1)
		go func(mem *member) {
			defer m.stops.Done()
			m.stop(stopCtx, mem)
		}(mem)
	}
}

func (m *Manager) stop(ctx context.Context, mem *member) error {
	id := mem.handle.ID()
	m.logger.Info("stopping worker", slog.String("worker_id", id))
	err := m.sup.Stop(ctx, mem.handle, m.cfg.StopGrace)
	if err != nil {
		m.logger.Warn("worker stop was not graceful", slog.String("worker_id", id), slog.String("error", err.Error()))
	}
	return err
}

// reap drops workers whose handle reports exit. Exits the manager did not
// ask for are crashes; their claims are left to the reclaimer.
func (m *Manager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, mem := range m.members {
		select {
		case <-mem.handle.Done():
		default:
			continue
		}
		if mem.desc.Liveness != LivenessStopping {
			m.logger.Warn("worker exited unexpectedly",
				slog.String("worker_id", id),
				slog.Int64("processed", mem.desc.Processed),
				slog.Any("error", mem.handle.Err()))
		}
		delete(m.members, id)
	}
}

func (m *Manager) activeLocked() []*member {
	active := make([]*member, 0, len(m.members))
	for _, mem := range m.members {
		if mem.desc.Liveness == LivenessStopping || exited(mem) {
			continue
		}
		active = append(active, mem)
	}
	return active
}

func allIdle(active []*member) bool {
	for _, mem := range active {
		if mem.lastEvent != events.ClaimEmpty {
			return false
		}
	}
	return true
}

func exited(mem *member) bool {
	select {
	case <-mem.handle.Done():
		return true
	default:
		return false
	}
}

func (m *Manager) nextID() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, fmt.Sprintf("worker-%d-%s", m.seq, uuid.NewString()[:8])
}

// HandleEvent updates worker bookkeeping from a lifecycle event.
// Events from unknown workers are ignored.
func (m *Manager) HandleEvent(_ context.Context, e *events.WorkerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[e.WorkerID]
	if !ok {
		return nil
	}
	mem.lastEvent = e.Type
	if !e.At.IsZero() {
		mem.desc.LastSeen = e.At
	} else {
		mem.desc.LastSeen = time.Now().UTC()
	}

	if mem.desc.Liveness == LivenessStopping {
		if e.Type == events.ItemSettled {
			mem.desc.Processed++
		}
		return nil
	}

	switch e.Type {
	case events.WorkerStarted, events.ClaimEmpty, events.ClaimFailed, events.BatchDone:
		mem.desc.Liveness = LivenessIdle
	case events.BatchClaimed:
		mem.desc.Liveness = LivenessBusy
	case events.ItemSettled:
		mem.desc.Liveness = LivenessBusy
		mem.desc.Processed++
	case events.WorkerStopped:
		mem.desc.Liveness = LivenessStopping
	}
	return nil
}

// Snapshot returns the current pool status, workers ordered by spawn.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status
	members := make([]*member, 0, len(m.members))
	for _, mem := range m.members {
		members = append(members, mem)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	st.Workers = make([]WorkerDescriptor, 0, len(members))
	for _, mem := range members {
		d := mem.desc
		if exited(mem) {
			d.Liveness = LivenessExited
		}
		st.Workers = append(st.Workers, d)
	}
	return st
}

// Shutdown stops every worker in parallel and waits for background stops.
// It returns ErrForcedStop if any worker had to be terminated.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	active := m.activeLocked()
	for _, mem := range active {
		mem.desc.Liveness = LivenessStopping
	}
	m.mu.Unlock()

	m.logger.Info("stopping worker fleet", slog.Int("workers", len(active)))

	var g errgroup.Group
	for _, mem := range active {
		g.Go(func() error { return m.stop(ctx, mem) })
	}
	err := g.Wait()
	m.stops.Wait()
	m.reap()

	if err != nil && !errors.Is(err, ErrForcedStop) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return err
}
