package obligations

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// FeeStatus enumerates the lifecycle of a membership fee obligation.
type FeeStatus string

const (
	FeeStatusOpen      FeeStatus = "open"
	FeeStatusPartial   FeeStatus = "partial"
	FeeStatusPaid      FeeStatus = "paid"
	FeeStatusCancelled FeeStatus = "cancelled"
)

// Valid reports whether s is a known fee status.
func (s FeeStatus) Valid() bool {
	switch s {
	case FeeStatusOpen, FeeStatusPartial, FeeStatusPaid, FeeStatusCancelled:
		return true
	default:
		return false
	}
}

// ItemStatus enumerates the lifecycle of an item obligation. Partially paid
// items still report open.
type ItemStatus string

const (
	ItemStatusOpen ItemStatus = "open"
	ItemStatusPaid ItemStatus = "paid"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	return s == ItemStatusOpen || s == ItemStatusPaid
}

// FeeObligation is the fee a member owes for one year.
type FeeObligation struct {
	ID           int64           `json:"id"`
	MemberID     int64           `json:"member_id"`
	FeeYear      int             `json:"fee_year"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	Status       FeeStatus       `json:"status"`
	DueDate      time.Time       `json:"due_date"`
	Notes        string          `json:"notes"`
	MarkedPaidAt *time.Time      `json:"marked_paid_at,omitempty"`
	MarkedPaidBy *int64          `json:"marked_paid_by,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Outstanding returns what is still owed. Cancelled and paid obligations owe
// nothing, including ones marked paid without balancing.
func (o FeeObligation) Outstanding() decimal.Decimal {
	if o.Status == FeeStatusCancelled || o.Status == FeeStatusPaid {
		return decimal.Zero
	}
	return floorZero(o.FeeAmount.Sub(o.PaidAmount))
}

// ForcePaid reports whether the obligation was marked paid administratively.
func (o FeeObligation) ForcePaid() bool {
	return o.MarkedPaidAt != nil
}

// ApplyPayment adjusts the paid amount by delta (negative on unlink) and
// recomputes the status. Any administrative paid mark is cleared first.
func (o *FeeObligation) ApplyPayment(delta decimal.Decimal, at time.Time) {
	o.PaidAmount = o.PaidAmount.Add(delta)
	o.MarkedPaidAt = nil
	o.MarkedPaidBy = nil
	o.Status = RecomputeFeeStatus(o.Status, o.PaidAmount, o.FeeAmount)
	o.UpdatedAt = at
}

// ItemObligation is a one-off charge to a member or an external receiver.
type ItemObligation struct {
	ID            int64           `json:"id"`
	MemberID      *int64          `json:"member_id,omitempty"`
	ReceiverName  string          `json:"receiver_name,omitempty"`
	ReceiverPhone string          `json:"receiver_phone,omitempty"`
	OrganizerID   *int64          `json:"organizing_member_id,omitempty"`
	Description   string          `json:"description"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Status        ItemStatus      `json:"status"`
	DueDate       time.Time       `json:"due_date"`
	MarkedPaidAt  *time.Time      `json:"marked_paid_at,omitempty"`
	MarkedPaidBy  *int64          `json:"marked_paid_by,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Outstanding returns what is still owed on the item.
func (o ItemObligation) Outstanding() decimal.Decimal {
	if o.Status == ItemStatusPaid {
		return decimal.Zero
	}
	return floorZero(o.TotalAmount.Sub(o.PaidAmount))
}

// ForcePaid reports whether the item was marked paid administratively.
func (o ItemObligation) ForcePaid() bool {
	return o.MarkedPaidAt != nil
}

// ApplyPayment adjusts the paid amount by delta and recomputes the status.
func (o *ItemObligation) ApplyPayment(delta decimal.Decimal, at time.Time) {
	o.PaidAmount = o.PaidAmount.Add(delta)
	o.MarkedPaidAt = nil
	o.MarkedPaidBy = nil
	o.Status = RecomputeItemStatus(o.PaidAmount, o.TotalAmount)
	o.UpdatedAt = at
}

// RecomputeFeeStatus derives the fee status from the paid and fee amounts.
// Cancelled is terminal and never cleared here.
func RecomputeFeeStatus(current FeeStatus, paid, fee decimal.Decimal) FeeStatus {
	if current == FeeStatusCancelled {
		return FeeStatusCancelled
	}
	switch {
	case paid.LessThanOrEqual(decimal.Zero):
		return FeeStatusOpen
	case paid.LessThan(fee):
		return FeeStatusPartial
	default:
		return FeeStatusPaid
	}
}

// RecomputeItemStatus derives the item status. Partial payments stay open.
func RecomputeItemStatus(paid, total decimal.Decimal) ItemStatus {
	if paid.GreaterThan(decimal.Zero) && paid.GreaterThanOrEqual(total) {
		return ItemStatusPaid
	}
	return ItemStatusOpen
}

// AppendNote adds a dated line to a free-text notes log.
func AppendNote(notes string, at time.Time, actorID int64, line string) string {
	entry := at.UTC().Format("2006-01-02 15:04") + " #" + strconv.FormatInt(actorID, 10) + ": " + strings.TrimSpace(line)
	if strings.TrimSpace(notes) == "" {
		return entry
	}
	return strings.TrimRight(notes, "\n") + "\n" + entry
}

// CreateFeeInput holds the data for a new fee obligation.
type CreateFeeInput struct {
	MemberID int64
	Year     int
	Amount   decimal.Decimal
	DueDate  time.Time
	Notes    string
}

// Validate checks the fee input.
func (in CreateFeeInput) Validate() error {
	if in.MemberID <= 0 {
		return shared.Invalid("member_id", "is required")
	}
	if in.Year < 1900 || in.Year > 9999 {
		return shared.Invalid("year", "must be a four digit year")
	}
	if !in.Amount.GreaterThan(decimal.Zero) {
		return shared.Invalid("amount", "must be greater than zero")
	}
	if in.DueDate.IsZero() {
		return shared.Invalid("due_date", "is required")
	}
	return nil
}

// CreateItemInput holds the data for a new item obligation. Either MemberID or
// ReceiverName identifies who owes the amount.
type CreateItemInput struct {
	MemberID      *int64
	ReceiverName  string
	ReceiverPhone string
	OrganizerID   *int64
	Description   string
	Amount        decimal.Decimal
	DueDate       time.Time
}

// Validate checks the item input.
func (in CreateItemInput) Validate() error {
	if in.MemberID == nil && strings.TrimSpace(in.ReceiverName) == "" {
		return shared.Invalid("receiver_name", "is required when no member is given")
	}
	if in.MemberID != nil && *in.MemberID <= 0 {
		return shared.Invalid("member_id", "must be a positive integer")
	}
	if strings.TrimSpace(in.Description) == "" {
		return shared.Invalid("description", "is required")
	}
	if !in.Amount.GreaterThan(decimal.Zero) {
		return shared.Invalid("amount", "must be greater than zero")
	}
	if in.DueDate.IsZero() {
		return shared.Invalid("due_date", "is required")
	}
	return nil
}

// FeeFilter narrows fee obligation listings.
type FeeFilter struct {
	Year     *int
	MemberID *int64
	Status   FeeStatus
}

// ItemFilter narrows item obligation listings.
type ItemFilter struct {
	MemberID *int64
	Status   ItemStatus
}

// Overdue bundles obligations past their due date with money still owed.
type Overdue struct {
	Fees  []FeeObligation  `json:"fees"`
	Items []ItemObligation `json:"items"`
}

// Total sums the outstanding amounts.
func (o Overdue) Total() decimal.Decimal {
	total := decimal.Zero
	for _, f := range o.Fees {
		total = total.Add(f.Outstanding())
	}
	for _, i := range o.Items {
		total = total.Add(i.Outstanding())
	}
	return total
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
