package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// MetricsRecorder receives payment counters.
type MetricsRecorder interface {
	PaymentLinked(kind string)
	PaymentUnlinked(kind string)
}

// Service links bank transactions to obligations and keeps the obligation
// balance and status in step with its payments.
type Service struct {
	repo    Repository
	metrics MetricsRecorder
	now     func() time.Time
}

// NewService constructs the payment linker.
func NewService(repo Repository, metrics MetricsRecorder) *Service {
	return &Service{repo: repo, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// LinkFeePayment records a payment against a fee obligation.
func (s *Service) LinkFeePayment(ctx context.Context, actor shared.Actor, in LinkInput) (Payment, error) {
	return s.link(ctx, actor, KindFee, in)
}

// LinkItemPayment records a payment against an item obligation.
func (s *Service) LinkItemPayment(ctx context.Context, actor shared.Actor, in LinkInput) (Payment, error) {
	return s.link(ctx, actor, KindItem, in)
}

// UnlinkFeePayment removes a fee payment and reverses its amount.
func (s *Service) UnlinkFeePayment(ctx context.Context, actor shared.Actor, paymentID int64) error {
	return s.unlink(ctx, actor, KindFee, paymentID)
}

// UnlinkItemPayment removes an item payment and reverses its amount.
func (s *Service) UnlinkItemPayment(ctx context.Context, actor shared.Actor, paymentID int64) error {
	return s.unlink(ctx, actor, KindItem, paymentID)
}

// ListFeePayments returns the payments of a fee obligation.
func (s *Service) ListFeePayments(ctx context.Context, obligationID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, KindFee, obligationID)
}

// ListItemPayments returns the payments of an item obligation.
func (s *Service) ListItemPayments(ctx context.Context, obligationID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, KindItem, obligationID)
}

// ListByTransaction returns every payment funded by a transaction.
func (s *Service) ListByTransaction(ctx context.Context, txID int64) ([]Payment, error) {
	return s.repo.ListByTransaction(ctx, txID)
}

// TransactionAllocation reports the linked and remaining amount of a
// transaction.
func (s *Service) TransactionAllocation(ctx context.Context, txID int64) (Allocation, error) {
	return s.repo.Allocation(ctx, txID)
}

func (s *Service) link(ctx context.Context, actor shared.Actor, kind Kind, in LinkInput) (Payment, error) {
	if err := shared.RequireActor(actor); err != nil {
		return Payment{}, err
	}
	if err := in.Validate(); err != nil {
		return Payment{}, err
	}
	in.PaymentDate = shared.Day(in.PaymentDate)
	var created Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != nil {
			if err := tx.ClaimIdempotencyKey(ctx, *in.IdempotencyKey, "payments."+string(kind)); err != nil {
				return err
			}
		}
		now := s.now()
		var balance balanceChange
		switch kind {
		case KindFee:
			o, err := tx.LockFee(ctx, in.ObligationID)
			if err != nil {
				return err
			}
			if o.Status == obligations.FeeStatusCancelled {
				return fmt.Errorf("payments: fee obligation %d is cancelled: %w", o.ID, shared.ErrInvalidState)
			}
			if err := s.checkTransaction(ctx, tx, in.TransactionID); err != nil {
				return err
			}
			if created, err = tx.InsertPayment(ctx, kind, in, actor.ID); err != nil {
				return err
			}
			before := o
			o.ApplyPayment(in.Amount, now)
			if err := tx.SaveFeeState(ctx, o); err != nil {
				return err
			}
			balance = balanceChange{paidBefore: before.PaidAmount, paidAfter: o.PaidAmount, statusBefore: string(before.Status), statusAfter: string(o.Status)}
		case KindItem:
			o, err := tx.LockItem(ctx, in.ObligationID)
			if err != nil {
				return err
			}
			if err := s.checkTransaction(ctx, tx, in.TransactionID); err != nil {
				return err
			}
			if created, err = tx.InsertPayment(ctx, kind, in, actor.ID); err != nil {
				return err
			}
			before := o
			o.ApplyPayment(in.Amount, now)
			if err := tx.SaveItemState(ctx, o); err != nil {
				return err
			}
			balance = balanceChange{paidBefore: before.PaidAmount, paidAfter: o.PaidAmount, statusBefore: string(before.Status), statusAfter: string(o.Status)}
		default:
			return shared.Invalid("kind", "must be fee or item")
		}
		meta := balance.meta()
		meta["obligation_id"] = in.ObligationID
		meta["amount"] = in.Amount.StringFixed(2)
		if in.TransactionID != nil {
			meta["transaction_id"] = *in.TransactionID
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "payment.link",
			Entity:   string(kind) + "_payment",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta:     meta,
			At:       now,
		})
	})
	if err != nil {
		return Payment{}, err
	}
	if s.metrics != nil {
		s.metrics.PaymentLinked(string(kind))
	}
	return created, nil
}

func (s *Service) unlink(ctx context.Context, actor shared.Actor, kind Kind, paymentID int64) error {
	if err := shared.RequireActor(actor); err != nil {
		return err
	}
	if paymentID <= 0 {
		return shared.Invalid("id", "must be a positive integer")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPayment(ctx, kind, paymentID)
		if err != nil {
			return err
		}
		now := s.now()
		var balance balanceChange
		switch kind {
		case KindFee:
			o, err := tx.LockFee(ctx, p.ObligationID)
			if err != nil {
				return err
			}
			if err := s.checkTransaction(ctx, tx, p.TransactionID); err != nil {
				return err
			}
			if err := tx.DeletePayment(ctx, kind, p.ID); err != nil {
				return err
			}
			before := o
			o.ApplyPayment(p.Amount.Neg(), now)
			if err := tx.SaveFeeState(ctx, o); err != nil {
				return err
			}
			balance = balanceChange{paidBefore: before.PaidAmount, paidAfter: o.PaidAmount, statusBefore: string(before.Status), statusAfter: string(o.Status)}
		case KindItem:
			o, err := tx.LockItem(ctx, p.ObligationID)
			if err != nil {
				return err
			}
			if err := s.checkTransaction(ctx, tx, p.TransactionID); err != nil {
				return err
			}
			if err := tx.DeletePayment(ctx, kind, p.ID); err != nil {
				return err
			}
			before := o
			o.ApplyPayment(p.Amount.Neg(), now)
			if err := tx.SaveItemState(ctx, o); err != nil {
				return err
			}
			balance = balanceChange{paidBefore: before.PaidAmount, paidAfter: o.PaidAmount, statusBefore: string(before.Status), statusAfter: string(o.Status)}
		default:
			return shared.Invalid("kind", "must be fee or item")
		}
		meta := balance.meta()
		meta["obligation_id"] = p.ObligationID
		meta["amount"] = p.Amount.StringFixed(2)
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "payment.unlink",
			Entity:   string(kind) + "_payment",
			EntityID: strconv.FormatInt(p.ID, 10),
			Meta:     meta,
			At:       now,
		})
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PaymentUnlinked(string(kind))
	}
	return nil
}

// checkTransaction rejects payments sourced from a locked transaction. Manual
// payments carry no transaction and always pass.
func (s *Service) checkTransaction(ctx context.Context, tx TxRepository, txID *int64) error {
	if txID == nil {
		return nil
	}
	t, err := tx.LockForShare(ctx, *txID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("payments: transaction %d: %w", *txID, shared.ErrNotFound)
		}
		return err
	}
	if t.IsLocked() {
		return fmt.Errorf("payments: transaction %d locked by period %d: %w", t.ID, *t.CheckedInPeriodID, shared.ErrLocked)
	}
	return nil
}

type balanceChange struct {
	paidBefore   decimal.Decimal
	paidAfter    decimal.Decimal
	statusBefore string
	statusAfter  string
}

func (b balanceChange) meta() map[string]any {
	return map[string]any{
		"paid_before":   b.paidBefore.StringFixed(2),
		"paid_after":    b.paidAfter.StringFixed(2),
		"status_before": b.statusBefore,
		"status_after":  b.statusAfter,
	}
}
