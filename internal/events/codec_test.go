package events

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderDecodeStream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	sent := []*WorkerEvent{
		{WorkerID: "worker-1", Type: WorkerStarted, At: at},
		{WorkerID: "worker-1", Type: BatchClaimed, Count: 3, At: at},
		{WorkerID: "worker-1", Type: ItemSettled, TaskID: "t-1", Status: "invalid", Reason: "timeout", At: at},
	}
	for _, e := range sent {
		require.NoError(t, enc.EmitEvent(context.Background(), e))
	}
	// Interleave noise a worker binary might print.
	buf.WriteString("not json\n\n{\"worker_id\":\"w\"}\n")

	recorder := &recordingHandler{}
	emitter := NewInMemoryEventEmitter(nil)
	var received []*WorkerEvent
	emitter.RegisterHandler(HandlerFunc(func(_ context.Context, e *WorkerEvent) error {
		received = append(received, e)
		return nil
	}))
	emitter.RegisterHandler(recorder)

	require.NoError(t, Decode(context.Background(), &buf, emitter, nil))
	require.Len(t, received, 3)
	assert.Equal(t, *sent[2], *received[2])
	assert.Equal(t, 3, recorder.HandledCount)
}

func TestDecodeOversizedLine(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("x", maxLineSize+1)
	err := Decode(context.Background(), strings.NewReader(huge), Discard, nil)
	assert.Error(t, err)
}

func TestDecodeDrainsAfterOversizedLine(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		_, err := io.WriteString(pw, strings.Repeat("x", maxLineSize+1)+"\n")
		for i := 0; err == nil && i < 100; i++ {
			_, err = io.WriteString(pw, `{"type":"item_settled","worker_id":"w1"}`+"\n")
		}
		written <- err
		_ = pw.Close()
	}()

	err := Decode(context.Background(), pr, Discard, nil)
	assert.Error(t, err)

	select {
	case err := <-written:
		assert.NoError(t, err, "the writer is never left blocked on the pipe")
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked after the reader gave up")
	}
}
