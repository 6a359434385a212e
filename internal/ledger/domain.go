package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// CheckStatus is the review state of a bank transaction.
type CheckStatus string

const (
	CheckStatusUnchecked          CheckStatus = "unchecked"
	CheckStatusChecked            CheckStatus = "checked"
	CheckStatusUnderInvestigation CheckStatus = "under_investigation"
)

// Transaction is one bank ledger line. Booking fields are immutable.
type Transaction struct {
	ID                int64           `json:"id"`
	BookingDate       time.Time       `json:"booking_date"`
	BookingText       string          `json:"booking_text"`
	Purpose           string          `json:"purpose"`
	Payer             string          `json:"payer"`
	Amount            decimal.Decimal `json:"amount"`
	CategoryID        *int64          `json:"category_id,omitempty"`
	BusinessYear      int             `json:"business_year"`
	Comment           string          `json:"comment"`
	CheckStatus       CheckStatus     `json:"check_status"`
	CheckedInPeriodID *int64          `json:"checked_in_period_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLocked reports whether a finalized check period has locked the transaction.
func (t Transaction) IsLocked() bool {
	return t.CheckedInPeriodID != nil
}

// IsIncome reports whether money came in.
func (t Transaction) IsIncome() bool {
	return t.Amount.IsPositive()
}

// Sign filters transactions by direction.
type Sign string

const (
	SignAny     Sign = ""
	SignIncome  Sign = "income"
	SignExpense Sign = "expense"
)

// Filter narrows transaction listings. Zero values mean no restriction; a
// zero Limit returns every match.
type Filter struct {
	From       time.Time
	To         time.Time
	CategoryID *int64
	Year       *int
	Search     string
	Sign       Sign
	Limit      int
	Offset     int
}

// Validate checks the filter.
func (f Filter) Validate() error {
	switch f.Sign {
	case SignAny, SignIncome, SignExpense:
	default:
		return shared.Invalid("sign", "must be income or expense")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return shared.Invalid("to", "must not be before from")
	}
	return nil
}

// Summary totals a set of transactions.
type Summary struct {
	Count   int             `json:"count"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Balance decimal.Decimal `json:"balance"`
}

// Summarize totals income and expenses.
func Summarize(txns []Transaction) Summary {
	s := Summary{Income: decimal.Zero, Expense: decimal.Zero, Balance: decimal.Zero}
	for _, t := range txns {
		s.Count++
		if t.Amount.IsPositive() {
			s.Income = s.Income.Add(t.Amount)
		} else {
			s.Expense = s.Expense.Add(t.Amount.Neg())
		}
		s.Balance = s.Balance.Add(t.Amount)
	}
	return s
}

// CreateInput holds a manually entered transaction.
type CreateInput struct {
	BookingDate  time.Time
	BookingText  string
	Purpose      string
	Payer        string
	Amount       decimal.Decimal
	CategoryID   *int64
	BusinessYear int
	Comment      string
}

// Validate checks the manual entry.
func (in CreateInput) Validate() error {
	if in.BookingDate.IsZero() {
		return shared.Invalid("booking_date", "is required")
	}
	if in.Amount.IsZero() {
		return shared.Invalid("amount", "must not be zero")
	}
	if in.BusinessYear != 0 && (in.BusinessYear < 1900 || in.BusinessYear > 9999) {
		return shared.Invalid("business_year", "must be a four digit year")
	}
	return nil
}

// Patch is the set of mutable fields to change. Nil fields stay untouched.
// ClearCategory removes the category reference.
type Patch struct {
	CategoryID    *int64
	ClearCategory bool
	BusinessYear  *int
	Comment       *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.CategoryID == nil && !p.ClearCategory && p.BusinessYear == nil && p.Comment == nil
}

// Apply returns t with the patch applied.
func (p Patch) Apply(t Transaction) Transaction {
	if p.ClearCategory {
		t.CategoryID = nil
	}
	if p.CategoryID != nil {
		id := *p.CategoryID
		t.CategoryID = &id
	}
	if p.BusinessYear != nil {
		t.BusinessYear = *p.BusinessYear
	}
	if p.Comment != nil {
		t.Comment = *p.Comment
	}
	return t
}

var bookingFields = map[string]bool{
	"id":                   true,
	"booking_date":         true,
	"booking_text":         true,
	"purpose":              true,
	"payer":                true,
	"amount":               true,
	"check_status":         true,
	"checked_in_period_id": true,
}

// ParsePatch decodes a JSON object of field changes. Booking fields and
// review state cannot be patched.
func ParsePatch(raw []byte) (Patch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Patch{}, shared.Invalid("body", "must be a JSON object")
	}
	var p Patch
	for name, value := range fields {
		key := strings.ToLower(strings.TrimSpace(name))
		if bookingFields[key] {
			return Patch{}, shared.Invalid(key, "cannot be changed")
		}
		switch key {
		case "category_id":
			if string(value) == "null" {
				p.ClearCategory = true
				continue
			}
			var id int64
			if err := json.Unmarshal(value, &id); err != nil || id <= 0 {
				return Patch{}, shared.Invalid("category_id", "must be a positive integer or null")
			}
			p.CategoryID = &id
		case "business_year":
			var year int
			if err := json.Unmarshal(value, &year); err != nil || year < 1900 || year > 9999 {
				return Patch{}, shared.Invalid("business_year", "must be a four digit year")
			}
			p.BusinessYear = &year
		case "comment":
			var comment string
			if err := json.Unmarshal(value, &comment); err != nil {
				return Patch{}, shared.Invalid("comment", "must be a string")
			}
			if len(comment) > 2000 {
				return Patch{}, shared.Invalid("comment", "must be at most 2000 characters")
			}
			p.Comment = &comment
		default:
			return Patch{}, shared.Invalid(key, "is not a known field")
		}
	}
	if p.Empty() {
		return Patch{}, shared.Invalid("body", "must change at least one field")
	}
	return p, nil
}
