package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Service owns bank transactions and their lock guard.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create stores a manually entered transaction. The business year defaults to
// the booking year. Booking dates inside a finalized period are rejected.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (Transaction, error) {
	if err := shared.RequireActor(actor); err != nil {
		return Transaction{}, err
	}
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	in.BookingDate = shared.Day(in.BookingDate)
	if in.BusinessYear == 0 {
		in.BusinessYear = in.BookingDate.Year()
	}
	var created Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		periodID, finalized, err := tx.FinalizedPeriodCovering(ctx, in.BookingDate)
		if err != nil {
			return err
		}
		if finalized {
			return fmt.Errorf("ledger: booking date %s lies in finalized period %d: %w",
				in.BookingDate.Format("2006-01-02"), periodID, shared.ErrLocked)
		}
		created, err = tx.Insert(ctx, in)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "transaction.create",
			Entity:   "transaction",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta:     map[string]any{"amount": in.Amount.StringFixed(2), "booking_date": in.BookingDate.Format("2006-01-02")},
			At:       s.now(),
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	return created, nil
}

// Get returns a transaction.
func (s *Service) Get(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// ListByDateRange returns transactions booked within [from, to].
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	return s.ListByFilter(ctx, Filter{From: from, To: to})
}

// ListByFilter returns transactions matching filter.
func (s *Service) ListByFilter(ctx context.Context, filter Filter) ([]Transaction, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, filter)
}

// ListPage returns one page of the transactions matching filter.
func (s *Service) ListPage(ctx context.Context, filter Filter, page, perPage int) ([]Transaction, shared.Pagination, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, total)
	start, end := p.Bounds()
	if start == end {
		return []Transaction{}, p, nil
	}
	filter.Offset, filter.Limit = start, end-start
	txns, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return txns, p, nil
}

func normalizeFilter(filter Filter) (Filter, error) {
	if err := filter.Validate(); err != nil {
		return Filter{}, err
	}
	filter.From = shared.Day(filter.From)
	filter.To = shared.Day(filter.To)
	filter.Limit, filter.Offset = 0, 0
	return filter, nil
}

// Summarize totals the transactions matching filter.
func (s *Service) Summarize(ctx context.Context, filter Filter) (Summary, error) {
	txns, err := s.ListByFilter(ctx, filter)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(txns), nil
}

// Update applies a patch of mutable fields. Locked transactions are rejected
// whatever the patch contains.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, patch Patch) (Transaction, error) {
	if err := shared.RequireActor(actor); err != nil {
		return Transaction{}, err
	}
	if patch.Empty() {
		return Transaction{}, shared.Invalid("body", "must change at least one field")
	}
	var updated Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.IsLocked() {
			return fmt.Errorf("ledger: transaction %d locked by period %d: %w", id, *current.CheckedInPeriodID, shared.ErrLocked)
		}
		now := s.now()
		updated, err = tx.ApplyPatch(ctx, id, patch, now)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "transaction.update",
			Entity:   "transaction",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     patchMeta(patch),
			At:       now,
		})
	})
	if err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// Delete removes a transaction that is neither locked nor referenced by a
// payment.
func (s *Service) Delete(ctx context.Context, actor shared.Actor, id int64) error {
	if err := shared.RequireActor(actor); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.IsLocked() {
			return fmt.Errorf("ledger: transaction %d locked by period %d: %w", id, *current.CheckedInPeriodID, shared.ErrLocked)
		}
		linked, err := tx.CountPayments(ctx, id)
		if err != nil {
			return err
		}
		if linked > 0 {
			return fmt.Errorf("ledger: transaction %d funds %d payment(s): %w", id, linked, shared.ErrInvalidState)
		}
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "transaction.delete",
			Entity:   "transaction",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"amount": current.Amount.StringFixed(2), "booking_date": current.BookingDate.Format("2006-01-02")},
			At:       s.now(),
		})
	})
}

func patchMeta(p Patch) map[string]any {
	meta := map[string]any{}
	if p.ClearCategory {
		meta["category_id"] = nil
	}
	if p.CategoryID != nil {
		meta["category_id"] = *p.CategoryID
	}
	if p.BusinessYear != nil {
		meta["business_year"] = *p.BusinessYear
	}
	if p.Comment != nil {
		meta["comment"] = *p.Comment
	}
	return meta
}
