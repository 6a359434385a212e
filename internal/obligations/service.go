package obligations

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Kinds label the two obligation families in metrics and audit rows.
const (
	KindFee  = "fee"
	KindItem = "item"
)

// MetricsRecorder receives obligation counters.
type MetricsRecorder interface {
	ObligationCreated(kind string)
}

// Service owns fee and item obligations.
type Service struct {
	repo    Repository
	metrics MetricsRecorder
	now     func() time.Time
}

// NewService constructs the obligation store.
func NewService(repo Repository, metrics MetricsRecorder) *Service {
	return &Service{repo: repo, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateFeeObligation creates the fee for one member and year. A second
// obligation for the same pair fails with ErrDuplicateKey.
func (s *Service) CreateFeeObligation(ctx context.Context, actor shared.Actor, in CreateFeeInput) (FeeObligation, error) {
	if err := shared.RequireActor(actor); err != nil {
		return FeeObligation{}, err
	}
	if err := in.Validate(); err != nil {
		return FeeObligation{}, err
	}
	in.DueDate = shared.Day(in.DueDate)
	var created FeeObligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertFee(ctx, in, actor.ID)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "fee_obligation.create",
			Entity:   "member_fee_obligation",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"member_id": in.MemberID,
				"fee_year":  in.Year,
				"amount":    in.Amount.StringFixed(2),
			},
			At: s.now(),
		})
	})
	if err != nil {
		return FeeObligation{}, err
	}
	if s.metrics != nil {
		s.metrics.ObligationCreated(KindFee)
	}
	return created, nil
}

// CreateItemObligation records a one-off charge. Items have no uniqueness rule.
func (s *Service) CreateItemObligation(ctx context.Context, actor shared.Actor, in CreateItemInput) (ItemObligation, error) {
	if err := shared.RequireActor(actor); err != nil {
		return ItemObligation{}, err
	}
	if err := in.Validate(); err != nil {
		return ItemObligation{}, err
	}
	in.DueDate = shared.Day(in.DueDate)
	var created ItemObligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertItem(ctx, in, actor.ID)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "item_obligation.create",
			Entity:   "item_obligation",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"description": created.Description,
				"amount":      in.Amount.StringFixed(2),
			},
			At: s.now(),
		})
	})
	if err != nil {
		return ItemObligation{}, err
	}
	if s.metrics != nil {
		s.metrics.ObligationCreated(KindItem)
	}
	return created, nil
}

// CancelFeeObligation cancels a fee nobody has paid anything on yet. The
// reason is appended to the notes log.
func (s *Service) CancelFeeObligation(ctx context.Context, actor shared.Actor, id int64, reason string) (FeeObligation, error) {
	if err := requireManager(actor); err != nil {
		return FeeObligation{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return FeeObligation{}, shared.Invalid("reason", "is required")
	}
	var out FeeObligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.LockFee(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == FeeStatusCancelled {
			return fmt.Errorf("obligations: fee %d already cancelled: %w", id, shared.ErrInvalidState)
		}
		if !o.PaidAmount.IsZero() {
			return fmt.Errorf("obligations: fee %d has %s paid and cannot be cancelled: %w", id, shared.FormatEUR(o.PaidAmount), shared.ErrInvalidState)
		}
		now := s.now()
		o.Status = FeeStatusCancelled
		o.Notes = AppendNote(o.Notes, now, actor.ID, "cancelled: "+reason)
		o.UpdatedAt = now
		if err := tx.SaveFeeState(ctx, o); err != nil {
			return err
		}
		out = o
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "fee_obligation.cancel",
			Entity:   "member_fee_obligation",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"reason": reason},
			At:       now,
		})
	})
	if err != nil {
		return FeeObligation{}, err
	}
	return out, nil
}

// MarkFeePaid forces a fee to paid without a payment. The paid amount stays as
// it is and the outstanding balance is forgiven until the next payment change.
func (s *Service) MarkFeePaid(ctx context.Context, actor shared.Actor, id int64) (FeeObligation, error) {
	if err := requireManager(actor); err != nil {
		return FeeObligation{}, err
	}
	var out FeeObligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.LockFee(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == FeeStatusCancelled {
			return fmt.Errorf("obligations: fee %d is cancelled: %w", id, shared.ErrInvalidState)
		}
		now := s.now()
		forgiven := decimal.Max(o.FeeAmount.Sub(o.PaidAmount), decimal.Zero)
		actorID := actor.ID
		o.Status = FeeStatusPaid
		o.MarkedPaidAt = &now
		o.MarkedPaidBy = &actorID
		o.Notes = AppendNote(o.Notes, now, actor.ID, "marked paid, forgiven "+shared.FormatEUR(forgiven))
		o.UpdatedAt = now
		if err := tx.SaveFeeState(ctx, o); err != nil {
			return err
		}
		out = o
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "fee_obligation.mark_paid",
			Entity:   "member_fee_obligation",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"forgiven": forgiven.StringFixed(2)},
			At:       now,
		})
	})
	if err != nil {
		return FeeObligation{}, err
	}
	return out, nil
}

// MarkItemPaid forces an item to paid without a payment.
func (s *Service) MarkItemPaid(ctx context.Context, actor shared.Actor, id int64) (ItemObligation, error) {
	if err := requireManager(actor); err != nil {
		return ItemObligation{}, err
	}
	var out ItemObligation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		forgiven := decimal.Max(o.TotalAmount.Sub(o.PaidAmount), decimal.Zero)
		actorID := actor.ID
		o.Status = ItemStatusPaid
		o.MarkedPaidAt = &now
		o.MarkedPaidBy = &actorID
		o.UpdatedAt = now
		if err := tx.SaveItemState(ctx, o); err != nil {
			return err
		}
		out = o
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "item_obligation.mark_paid",
			Entity:   "item_obligation",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"forgiven": forgiven.StringFixed(2)},
			At:       now,
		})
	})
	if err != nil {
		return ItemObligation{}, err
	}
	return out, nil
}

// GetFee returns a fee obligation.
func (s *Service) GetFee(ctx context.Context, id int64) (FeeObligation, error) {
	return s.repo.GetFee(ctx, id)
}

// GetItem returns an item obligation.
func (s *Service) GetItem(ctx context.Context, id int64) (ItemObligation, error) {
	return s.repo.GetItem(ctx, id)
}

// ListFees lists fee obligations.
func (s *Service) ListFees(ctx context.Context, filter FeeFilter) ([]FeeObligation, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Invalid("status", "must be one of open, partial, paid, cancelled")
	}
	return s.repo.ListFees(ctx, filter)
}

// ListItems lists item obligations.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]ItemObligation, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Invalid("status", "must be one of open, paid")
	}
	return s.repo.ListItems(ctx, filter)
}

// ListOverdue returns everything past its due date that still has money owed.
func (s *Service) ListOverdue(ctx context.Context, asOf time.Time) (Overdue, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = shared.Day(asOf)
	fees, err := s.repo.ListOverdueFees(ctx, asOf)
	if err != nil {
		return Overdue{}, err
	}
	items, err := s.repo.ListOverdueItems(ctx, asOf)
	if err != nil {
		return Overdue{}, err
	}
	return Overdue{Fees: fees, Items: items}, nil
}

// GenerateFeesInput describes a bulk fee run for all active members.
type GenerateFeesInput struct {
	Year    int             `json:"year"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// GenerateFeesResult counts created and skipped obligations.
type GenerateFeesResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// GenerateFees creates the yearly fee for every active member that does not
// have one yet. Existing obligations are left untouched.
func (s *Service) GenerateFees(ctx context.Context, actor shared.Actor, in GenerateFeesInput) (GenerateFeesResult, error) {
	if err := requireManager(actor); err != nil {
		return GenerateFeesResult{}, err
	}
	probe := CreateFeeInput{MemberID: 1, Year: in.Year, Amount: in.Amount, DueDate: in.DueDate}
	if err := probe.Validate(); err != nil {
		return GenerateFeesResult{}, err
	}
	members, err := s.repo.ListActiveMemberIDs(ctx)
	if err != nil {
		return GenerateFeesResult{}, err
	}
	var result GenerateFeesResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = GenerateFeesResult{}
		for _, memberID := range members {
			created, err := tx.InsertFeeIfAbsent(ctx, CreateFeeInput{
				MemberID: memberID,
				Year:     in.Year,
				Amount:   in.Amount,
				DueDate:  shared.Day(in.DueDate),
			}, actor.ID)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			} else {
				result.Skipped++
			}
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "fee_obligation.generate",
			Entity:   "member_fee_obligation",
			EntityID: strconv.Itoa(in.Year),
			Meta: map[string]any{
				"amount":  in.Amount.StringFixed(2),
				"created": result.Created,
				"skipped": result.Skipped,
			},
			At: s.now(),
		})
	})
	if err != nil {
		return GenerateFeesResult{}, err
	}
	if s.metrics != nil {
		for i := 0; i < result.Created; i++ {
			s.metrics.ObligationCreated(KindFee)
		}
	}
	return result, nil
}

func requireManager(actor shared.Actor) error {
	if err := shared.RequireActor(actor); err != nil {
		return err
	}
	if actor.IsAdmin() || actor.HasRole(shared.RoleTreasurer) {
		return nil
	}
	return fmt.Errorf("obligations: actor %d needs the admin or treasurer role: %w", actor.ID, shared.ErrForbidden)
}
