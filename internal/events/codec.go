package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// maxLineSize bounds a single encoded event.
const maxLineSize = 64 * 1024

// Encoder writes events as JSON lines. It is an EventEmitter, so a worker
// subprocess can publish to its stdout exactly as an in-process worker
// publishes to an InMemoryEventEmitter.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ EventEmitter = (*Encoder)(nil)

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// EmitEvent implements EventEmitter.
func (e *Encoder) EmitEvent(_ context.Context, event *WorkerEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(event); err != nil {
		return fmt.Errorf("encode worker event: %w", err)
	}
	return nil
}

// Decode reads JSON lines from r until EOF and forwards each event to out.
// Lines that are not events are logged and skipped, so stray output from a
// worker cannot wedge the reader. r is always read to EOF, even after a read
// error, so a writer on the other end of a pipe never blocks.
func Decode(ctx context.Context, r io.Reader, out EventEmitter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event WorkerEvent
		if err := json.Unmarshal(line, &event); err != nil || event.Type == "" {
			logger.Warn("skipping malformed worker event line", slog.Int("bytes", len(line)))
			continue
		}
		if err := out.EmitEvent(ctx, &event); err != nil {
			logger.Debug("worker event not handled",
				slog.String("worker_id", event.WorkerID),
				slog.String("error", err.Error()))
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("read worker events: %w", err)
	}
	return nil
}
