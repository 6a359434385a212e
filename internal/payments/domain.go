package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Kind selects the obligation family a payment belongs to.
type Kind string

const (
	KindFee  Kind = "fee"
	KindItem Kind = "item"
)

// Valid reports whether k is a known payment kind.
func (k Kind) Valid() bool {
	return k == KindFee || k == KindItem
}

// Payment applies money to exactly one obligation. TransactionID is nil for
// manual payments.
type Payment struct {
	ID            int64           `json:"id"`
	Kind          Kind            `json:"kind"`
	ObligationID  int64           `json:"obligation_id"`
	TransactionID *int64          `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date"`
	Method        string          `json:"payment_method,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LinkInput describes a new payment.
type LinkInput struct {
	ObligationID   int64
	TransactionID  *int64
	Amount         decimal.Decimal
	PaymentDate    time.Time
	Method         string
	Notes          string
	IdempotencyKey *uuid.UUID
}

// Validate checks the payment input.
func (in LinkInput) Validate() error {
	if in.ObligationID <= 0 {
		return shared.Invalid("obligation_id", "is required")
	}
	if in.TransactionID != nil && *in.TransactionID <= 0 {
		return shared.Invalid("transaction_id", "must be a positive integer")
	}
	if !in.Amount.GreaterThan(decimal.Zero) {
		return shared.Invalid("amount", "must be greater than zero")
	}
	if in.PaymentDate.IsZero() {
		return shared.Invalid("payment_date", "is required")
	}
	return nil
}

// Allocation reports how much of a transaction is already linked to
// obligations.
type Allocation struct {
	TransactionID int64           `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Linked        decimal.Decimal `json:"linked"`
	Remaining     decimal.Decimal `json:"remaining"`
}

// NewAllocation derives the remaining unlinked balance. Expenses are compared
// by magnitude.
func NewAllocation(txID int64, amount, linked decimal.Decimal) Allocation {
	remaining := amount.Abs().Sub(linked)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Allocation{TransactionID: txID, Amount: amount, Linked: linked, Remaining: remaining}
}

// Covers reports whether amount fits into the remaining balance.
func (a Allocation) Covers(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(a.Remaining)
}
