package pool_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/oracle"
	"github.com/phrazzld/verifyd/internal/platform/memory"
	"github.com/phrazzld/verifyd/internal/pool"
	"github.com/phrazzld/verifyd/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type politeRunner struct{ stop chan struct{} }

func (r *politeRunner) Run(ctx context.Context) error {
	select {
	case <-r.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (r *politeRunner) Stop() { close(r.stop) }

type stubbornRunner struct{}

func (stubbornRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
func (stubbornRunner) Stop() {}

type crashingRunner struct{}

func (crashingRunner) Run(context.Context) error { panic("worker blew up") }
func (crashingRunner) Stop()                     {}

func TestLocalSupervisor_GracefulStop(t *testing.T) {
	sup := pool.NewLocalSupervisor(func(string) pool.Runner {
		return &politeRunner{stop: make(chan struct{})}
	}, testLogger(t))

	h, err := sup.Spawn(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "w1", h.ID())

	require.NoError(t, sup.Stop(context.Background(), h, time.Second))
	<-h.Done()
	assert.NoError(t, h.Err())
}

func TestLocalSupervisor_ForcedStop(t *testing.T) {
	sup := pool.NewLocalSupervisor(func(string) pool.Runner { return stubbornRunner{} }, testLogger(t))

	h, err := sup.Spawn(context.Background(), "w1")
	require.NoError(t, err)

	err = sup.Stop(context.Background(), h, 20*time.Millisecond)
	assert.ErrorIs(t, err, pool.ErrForcedStop)
	assert.ErrorIs(t, h.Err(), context.Canceled)
}

func TestLocalSupervisor_WorkerOutlivesSpawnContext(t *testing.T) {
	sup := pool.NewLocalSupervisor(func(string) pool.Runner {
		return &politeRunner{stop: make(chan struct{})}
	}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	h, err := sup.Spawn(ctx, "w1")
	require.NoError(t, err)
	cancel()

	select {
	case <-h.Done():
		t.Fatal("worker exited with its spawn context")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, sup.Stop(context.Background(), h, time.Second))
}

func TestLocalSupervisor_Crash(t *testing.T) {
	sup := pool.NewLocalSupervisor(func(string) pool.Runner { return crashingRunner{} }, testLogger(t))

	h, err := sup.Spawn(context.Background(), "w1")
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("crashed worker never reported exit")
	}
	assert.ErrorContains(t, h.Err(), "panicked")
}

func TestManager_LocalFleetDrainsBacklog(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	tenant := uuid.New()
	require.NoError(t, s.SaveTenant(ctx, &domain.Tenant{ID: tenant, Name: "acme"}))
	require.NoError(t, s.SetAccount(ctx, &domain.Account{TenantID: tenant, Balance: 25}))

	tasks := make([]*domain.Task, 30)
	for i := range tasks {
		tk, err := domain.NewTask(tenant, fmt.Sprintf("user%d@example.com", i))
		require.NoError(t, err)
		tasks[i] = tk
	}
	require.NoError(t, s.Enqueue(ctx, tasks...))

	verify := oracle.Func(func(context.Context, string) (*oracle.Verdict, error) {
		time.Sleep(time.Millisecond)
		return &oracle.Verdict{Valid: true, RegexValid: true, MXValid: true, SMTPValid: true}, nil
	})

	log := testLogger(t)
	emitter := events.NewInMemoryEventEmitter(log)
	workerCfg := task.WorkerConfig{
		BatchSize:      5,
		IdleBackoff:    5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		OracleDeadline: time.Second,
	}
	sup := pool.NewLocalSupervisor(func(id string) pool.Runner {
		return task.NewWorker(id, task.Deps{
			Tasks: s, Tenants: s, Ledger: s, Oracle: verify, Events: emitter,
		}, workerCfg, log)
	}, log)

	cfg := managerConfig()
	cfg.Sizing = pool.Sizing{MinWorkers: 0, MaxWorkers: 5, TasksPerWorker: 10}
	m := pool.NewManager(s, sup, cfg, log)
	emitter.RegisterHandler(m)

	require.NoError(t, m.Reconcile(ctx))
	assert.Len(t, m.Snapshot().Workers, 3)

	require.Eventually(t, func() bool {
		b, err := s.Backlog(ctx)
		return err == nil && b.Pending == 0 && b.Processing == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Reconcile(ctx))
	require.Eventually(t, func() bool {
		_ = m.Reconcile(ctx)
		return len(m.Snapshot().Workers) == 0
	}, 5*time.Second, 10*time.Millisecond)

	var verified, starved int
	var processed int64
	for _, tk := range tasks {
		got, err := s.Get(ctx, tk.ID)
		require.NoError(t, err)
		switch {
		case got.Status == domain.TaskStatusVerified:
			verified++
		case got.Result != nil && got.Result.Failure == domain.FailureInsufficientCredit:
			starved++
		}
		if got.Status.IsTerminal() {
			processed++
		}
	}
	assert.Equal(t, 25, verified)
	assert.Equal(t, 5, starved)
	assert.Equal(t, int64(30), processed)

	account, err := s.Account(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
}
