package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type reply struct {
	verdict *Verdict
	err     error
}

// Call invokes o.Verify and waits at most deadline for the answer.
//
// The oracle runs on its own goroutine and races a timer, so an
// implementation that ignores its context still cannot hold the caller past
// the deadline; its eventual answer is discarded. Cancelling ctx returns
// ErrAborted immediately.
func Call(ctx context.Context, o Oracle, payload string, deadline time.Duration) (*Verdict, error) {
	if ctx.Err() != nil {
		return nil, ErrAborted
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("%w: %v", ErrPanic, p)}
			}
		}()
		v, err := o.Verify(callCtx, payload)
		done <- reply{verdict: v, err: err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case r := <-done:
		switch {
		case r.err == nil && r.verdict == nil:
			return nil, ErrNoVerdict
		case r.err == nil:
			return r.verdict, nil
		case ctx.Err() != nil:
			return nil, ErrAborted
		case errors.Is(r.err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", ErrTimeout, r.err)
		default:
			return nil, r.err
		}
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ErrAborted
	}
}
