package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/verifyd/internal/domain"
	"github.com/phrazzld/verifyd/internal/events"
	"github.com/phrazzld/verifyd/internal/oracle"
	"github.com/phrazzld/verifyd/internal/redact"
	"github.com/phrazzld/verifyd/internal/store"
)

// debitAmount is the cost of one processed item.
const debitAmount = 1

// processItem runs one claimed task through tenant lookup, credit gating,
// the oracle and the debit, then settles it. It returns errAborted when the
// run context is cancelled and a store error when the outcome could not be
// decided or written; every other failure becomes a terminal outcome.
func (w *Worker) processItem(ctx context.Context, t *domain.Task) (err error) {
	log := w.logger.With(slog.String("task_id", t.ID.String()))

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing task", slog.Any("panic", p))
			outcome := domain.FailedOutcome(domain.FailureProcessingError,
				redact.String(fmt.Sprintf("panic: %v", p)))
			err = w.settle(ctx, log, t, outcome)
		}
	}()

	outcome, err := w.decide(ctx, log, t)
	if errors.Is(err, errClaimLost) {
		log.Warn("claim lost during oracle call, skipping task")
		return nil
	}
	if err != nil {
		return err
	}
	return w.settle(ctx, log, t, outcome)
}

// decide produces the outcome for a task without writing it.
func (w *Worker) decide(ctx context.Context, log *slog.Logger, t *domain.Task) (domain.Outcome, error) {
	if _, err := w.deps.Tenants.GetTenant(ctx, t.TenantID); err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return domain.FailedOutcome(domain.FailureOrphanTask, "tenant not found"), nil
		}
		return domain.Outcome{}, fmt.Errorf("get tenant: %w", err)
	}

	account, err := w.deps.Ledger.Account(ctx, t.TenantID)
	switch {
	case errors.Is(err, store.ErrTenantNotFound):
		return domain.FailedOutcome(domain.FailureOrphanTask, "tenant has no account"), nil
	case err != nil:
		return domain.Outcome{}, fmt.Errorf("read account: %w", err)
	case !account.CanAfford(debitAmount):
		return domain.FailedOutcome(domain.FailureInsufficientCredit, "insufficient credit"), nil
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return domain.Outcome{}, errAborted
		}
	}

	verdict, err := oracle.Call(ctx, w.deps.Oracle, t.Payload, w.cfg.OracleDeadline)
	switch {
	case errors.Is(err, oracle.ErrAborted):
		return domain.Outcome{}, errAborted
	case errors.Is(err, oracle.ErrTimeout):
		log.Warn("oracle timed out", slog.Duration("deadline", w.cfg.OracleDeadline))
		return domain.FailedOutcome(domain.FailureTimeout, "oracle deadline exceeded"), nil
	case errors.Is(err, oracle.ErrPanic):
		log.Error("oracle panicked", slog.String("error", redact.Error(err)))
		return domain.FailedOutcome(domain.FailureProcessingError, redact.Error(err)), nil
	case err != nil:
		log.Warn("oracle failed", slog.String("error", redact.Error(err)))
		return domain.FailedOutcome(domain.FailureOracleError, redact.Error(err)), nil
	}

	// The oracle call may have outlived the claim. Charge only for a task this
	// worker still holds, and only once a verdict exists. The balance may have
	// moved since the Account read; TryDebit is the authoritative check.
	held, err := w.deps.Tasks.RenewClaims(ctx, w.id, t.ID)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("confirm claim: %w", err)
	}
	if len(held) == 0 {
		return domain.Outcome{}, errClaimLost
	}

	if _, err := w.deps.Ledger.TryDebit(ctx, t.TenantID, debitAmount); err != nil {
		switch {
		case errors.Is(err, store.ErrDebitFailed):
			return domain.FailedOutcome(domain.FailureInsufficientCredit, "insufficient credit"), nil
		case errors.Is(err, store.ErrTenantNotFound):
			return domain.FailedOutcome(domain.FailureOrphanTask, "tenant has no account"), nil
		default:
			return domain.Outcome{}, fmt.Errorf("debit: %w", err)
		}
	}

	return domain.VerdictOutcome(verdict.Result()), nil
}

// settle writes the outcome. A lost claim means another worker now owns the
// task after a reclaim; the task is left to it.
func (w *Worker) settle(ctx context.Context, log *slog.Logger, t *domain.Task, outcome domain.Outcome) error {
	if outcome.Result != nil {
		outcome.Result.ProcessedBy = w.id
	}

	ok, err := w.deps.Tasks.Settle(ctx, t.ID, w.id, outcome)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	if !ok {
		log.Warn("claim lost before settle")
		return nil
	}

	w.processed.Add(1)
	reason := ""
	if outcome.Result != nil {
		reason = string(outcome.Result.Failure)
		if reason == "" {
			reason = outcome.Result.Reason
		}
	}
	log.Debug("task settled",
		slog.String("status", string(outcome.Status)),
		slog.String("reason", reason))
	w.emit(ctx, &events.WorkerEvent{
		Type:   events.ItemSettled,
		TaskID: t.ID.String(),
		Status: string(outcome.Status),
		Reason: reason,
	})
	return nil
}
