package review

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// MetricsRecorder receives review counters.
type MetricsRecorder interface {
	CheckRecorded(verdict string)
	PeriodFinalized(locked int)
}

// Service drives check periods from creation through review to finalization.
type Service struct {
	repo    Repository
	metrics MetricsRecorder
	now     func() time.Time
}

// NewService constructs the review service.
func NewService(repo Repository, metrics MetricsRecorder) *Service {
	return &Service{repo: repo, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePeriod opens a new check period. Only administrators may do so.
func (s *Service) CreatePeriod(ctx context.Context, actor shared.Actor, in CreatePeriodInput) (CheckPeriod, error) {
	if err := shared.RequireActor(actor); err != nil {
		return CheckPeriod{}, err
	}
	if !actor.IsAdmin() {
		return CheckPeriod{}, fmt.Errorf("review: creating periods requires admin: %w", shared.ErrForbidden)
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := in.Validate(); err != nil {
		return CheckPeriod{}, err
	}
	in.DateFrom = shared.Day(in.DateFrom)
	in.DateTo = shared.Day(in.DateTo)

	var created CheckPeriod
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if created, err = tx.InsertPeriod(ctx, in, actor.ID); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "period.create",
			Entity:   "check_period",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"date_from":    in.DateFrom.Format(time.DateOnly),
				"date_to":      in.DateTo.Format(time.DateOnly),
				"leader_id":    in.LeaderID,
				"assistant_id": in.AssistantID,
			},
			At: s.now(),
		})
	})
	if err != nil {
		return CheckPeriod{}, err
	}
	return created, nil
}

// GetPeriod returns a period by id.
func (s *Service) GetPeriod(ctx context.Context, id int64) (CheckPeriod, error) {
	return s.repo.GetPeriod(ctx, id)
}

// ListPeriods returns periods, optionally restricted to one business year.
func (s *Service) ListPeriods(ctx context.Context, year *int) ([]CheckPeriod, error) {
	return s.repo.ListPeriods(ctx, year)
}

// Progress counts the period's transactions by check status.
func (s *Service) Progress(ctx context.Context, periodID int64) (Progress, error) {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return Progress{}, err
	}
	return s.repo.Progress(ctx, period)
}

// ListPeriodTransactions returns the in-range transactions with their check in
// this period.
func (s *Service) ListPeriodTransactions(ctx context.Context, periodID int64) ([]PeriodTransaction, error) {
	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPeriodTransactions(ctx, period)
}

// RecordCheck stores a verdict for one transaction and mirrors it onto the
// transaction's check status. Resubmitting overwrites the previous verdict.
func (s *Service) RecordCheck(ctx context.Context, actor shared.Actor, in RecordCheckInput) (CheckOutcome, error) {
	if err := shared.RequireActor(actor); err != nil {
		return CheckOutcome{}, err
	}
	in.Remarks = strings.TrimSpace(in.Remarks)
	if err := in.Validate(); err != nil {
		return CheckOutcome{}, err
	}

	var (
		outcome CheckOutcome
		period  CheckPeriod
		current ledger.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		// FOR SHARE serializes checks against finalization of the same period.
		if period, err = tx.SharePeriod(ctx, in.PeriodID); err != nil {
			return err
		}
		if period.Status != PeriodInProgress {
			return fmt.Errorf("review: period %d is %s: %w", period.ID, period.Status, shared.ErrInvalidState)
		}
		if !period.IsReviewer(actor) && !actor.IsAdmin() {
			return fmt.Errorf("review: actor %d is not a reviewer of period %d: %w", actor.ID, period.ID, shared.ErrForbidden)
		}
		t, err := tx.LockTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if !period.Contains(t.BookingDate) {
			return shared.Invalid("transaction_id", "is outside the period's date range")
		}
		if t.IsLocked() {
			return fmt.Errorf("review: transaction %d locked by period %d: %w", t.ID, *t.CheckedInPeriodID, shared.ErrLocked)
		}
		now := s.now()
		check, err := tx.UpsertCheck(ctx, TransactionCheck{
			TransactionID: t.ID,
			PeriodID:      period.ID,
			CheckedBy:     actor.ID,
			CheckedAt:     now,
			Result:        in.Verdict,
			Remarks:       in.Remarks,
		})
		if err != nil {
			return err
		}
		if err := tx.SetCheckStatus(ctx, t.ID, in.Verdict.CheckStatus(), now); err != nil {
			return err
		}
		outcome.Check = check
		current = t
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "check.record",
			Entity:   "transaction",
			EntityID: strconv.FormatInt(t.ID, 10),
			Meta: map[string]any{
				"check_period_id": period.ID,
				"verdict":         string(in.Verdict),
				"previous_status": string(t.CheckStatus),
			},
			At: now,
		})
	})
	if err != nil {
		return CheckOutcome{}, err
	}
	if s.metrics != nil {
		s.metrics.CheckRecorded(string(in.Verdict))
	}

	// The verdict is committed; a failed lookup only drops the auto-advance hint.
	next, err := s.repo.NextTransaction(ctx, period, current)
	if err == nil {
		outcome.Next = next
	}
	return outcome, nil
}
