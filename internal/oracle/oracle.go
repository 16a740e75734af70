// Package oracle defines the contract of the external validation service
// that decides whether a task payload is valid, and the deadline-bounded call
// workers use to reach it.
package oracle

import (
	"context"
	"errors"

	"github.com/phrazzld/verifyd/internal/domain"
)

// Checks run by an oracle, in the order they are evaluated. A failed
// verdict's Reason names the first check that failed.
const (
	CheckRegex      = "regex"
	CheckTypo       = "typo"
	CheckDisposable = "disposable"
	CheckMX         = "mx"
	CheckSMTP       = "smtp"
)

var (
	// ErrTimeout is returned by Call when the oracle did not answer within
	// the deadline. It is a terminal outcome for the task, distinct from a
	// negative verdict.
	ErrTimeout = errors.New("oracle deadline exceeded")

	// ErrAborted is returned by Call when the caller's context was cancelled
	// before the oracle answered. It is not an outcome; the task stays claimed.
	ErrAborted = errors.New("oracle call aborted")

	// ErrPanic wraps a panic raised inside an oracle implementation.
	ErrPanic = errors.New("oracle panicked")

	// ErrNoVerdict is returned when an oracle returns neither a verdict nor an error.
	ErrNoVerdict = errors.New("oracle returned no verdict")
)

// Verdict is an oracle's answer for one payload.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`

	RegexValid bool `json:"regex_valid"`
	Typo       bool `json:"typo"`
	Disposable bool `json:"disposable"`
	MXValid    bool `json:"mx_valid"`
	SMTPValid  bool `json:"smtp_valid"`
	CatchAll   bool `json:"catch_all"`

	// Suggestion is the corrected address when a typo was detected.
	Suggestion string `json:"suggestion,omitempty"`
}

// Result converts the verdict into the detail stored with the task.
func (v *Verdict) Result() domain.Result {
	return domain.Result{
		Valid:      v.Valid,
		Reason:     v.Reason,
		RegexValid: v.RegexValid,
		MXValid:    v.MXValid,
		SMTPValid:  v.SMTPValid,
		Disposable: v.Disposable,
		Typo:       v.Typo,
		CatchAll:   v.CatchAll,
	}
}

// Oracle validates a payload. Implementations should honour ctx but are not
// trusted to; Call enforces the deadline regardless.
type Oracle interface {
	Verify(ctx context.Context, payload string) (*Verdict, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, payload string) (*Verdict, error)

// Verify implements Oracle.
func (f Func) Verify(ctx context.Context, payload string) (*Verdict, error) {
	return f(ctx, payload)
}
