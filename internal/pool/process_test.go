package pool_test

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "VERIFYD_TEST_WORKER_PROCESS"

// TestHelperWorkerProcess is not a real test. It stands in for
// `verifyd worker` when re-executed by the process supervisor tests.
func TestHelperWorkerProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		t.Skip("helper process only")
	}

	id := ""
	for i, arg := range os.Args {
		if arg == "--id" && i+1 < len(os.Args) {
			id = os.Args[i+1]
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	if mode == "stubborn" {
		signal.Ignore(os.Interrupt)
	}

	enc := events.NewEncoder(os.Stdout)
	ctx := context.Background()
	_ = enc.EmitEvent(ctx, &events.WorkerEvent{WorkerID: id, Type: events.WorkerStarted, At: time.Now().UTC()})
	_ = enc.EmitEvent(ctx, &events.WorkerEvent{WorkerID: id, Type: events.ClaimEmpty, At: time.Now().UTC()})

	if mode == "stubborn" {
		time.Sleep(time.Hour)
	}
	<-sigs
	_ = enc.EmitEvent(ctx, &events.WorkerEvent{WorkerID: id, Type: events.WorkerStopped, At: time.Now().UTC()})
	os.Exit(0)
}

type collected struct {
	mu     sync.Mutex
	events []events.WorkerEvent
}

func (c *collected) EmitEvent(_ context.Context, e *events.WorkerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *e)
	return nil
}

func (c *collected) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func newHelperSupervisor(t *testing.T, mode string, out events.EventEmitter) *pool.ProcessSupervisor {
	t.Helper()
	t.Setenv(helperEnv, mode)
	sup, err := pool.NewProcessSupervisor(pool.ProcessConfig{
		Binary:    os.Args[0],
		Args:      []string{"-test.run=^TestHelperWorkerProcess$", "--"},
		BatchSize: 5,
		Stderr:    io.Discard,
	}, out, testLogger(t))
	require.NoError(t, err)
	return sup
}

func TestProcessSupervisor_ForwardsEventsAndStopsGracefully(t *testing.T) {
	out := &collected{}
	sup := newHelperSupervisor(t, "graceful", out)

	h, err := sup.Spawn(context.Background(), "worker-1-abcdef12")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(out.types()) >= 2 },
		5*time.Second, 10*time.Millisecond)
	require.NoError(t, sup.Stop(context.Background(), h, 5*time.Second))
	<-h.Done()

	assert.Equal(t, []events.EventType{events.WorkerStarted, events.ClaimEmpty, events.WorkerStopped}, out.types())
	out.mu.Lock()
	assert.Equal(t, "worker-1-abcdef12", out.events[0].WorkerID)
	out.mu.Unlock()
}

func TestProcessSupervisor_KillsAfterGrace(t *testing.T) {
	out := &collected{}
	sup := newHelperSupervisor(t, "stubborn", out)

	h, err := sup.Spawn(context.Background(), "worker-2-abcdef12")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(out.types()) >= 2 },
		5*time.Second, 10*time.Millisecond)

	err = sup.Stop(context.Background(), h, 50*time.Millisecond)
	assert.ErrorIs(t, err, pool.ErrForcedStop)
	assert.Error(t, h.Err())
}
