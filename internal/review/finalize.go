package review

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Finalize closes a period and locks every reviewed transaction in its range.
// The period row is held FOR UPDATE for the whole transaction, so a second
// finalizer blocks and then sees the finalized status.
func (s *Service) Finalize(ctx context.Context, actor shared.Actor, periodID int64) (FinalizeResult, error) {
	if err := shared.RequireActor(actor); err != nil {
		return FinalizeResult{}, err
	}
	if periodID <= 0 {
		return FinalizeResult{}, shared.Invalid("id", "must be a positive integer")
	}

	var result FinalizeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.LockPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if period.Status != PeriodInProgress {
			return fmt.Errorf("review: period %d is %s: %w", period.ID, period.Status, shared.ErrInvalidState)
		}
		if !period.IsLeader(actor) && !actor.IsAdmin() {
			return fmt.Errorf("review: only the leader or an admin may finalize period %d: %w", period.ID, shared.ErrForbidden)
		}
		remaining, err := tx.CountUnchecked(ctx, period)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return &shared.CountMismatchError{Remaining: remaining}
		}

		now := s.now()
		finalized, err := tx.MarkFinalized(ctx, period.ID, actor.ID, now)
		if err != nil {
			return err
		}
		locked, err := tx.StampLocks(ctx, finalized, now)
		if err != nil {
			return err
		}
		result = FinalizeResult{Period: finalized, Locked: locked}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "period.finalize",
			Entity:   "check_period",
			EntityID: strconv.FormatInt(finalized.ID, 10),
			Meta:     map[string]any{"locked": locked},
			At:       now,
		})
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	if s.metrics != nil {
		s.metrics.PeriodFinalized(result.Locked)
	}
	return result, nil
}

// VerifyLocks reports finalized periods whose range still holds unlocked
// transactions.
func (s *Service) VerifyLocks(ctx context.Context) ([]LockViolation, error) {
	return s.repo.LockViolations(ctx)
}
