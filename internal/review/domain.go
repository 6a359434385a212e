package review

import (
	"strings"
	"time"

	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// PeriodStatus is the lifecycle of a check period. Finalized is terminal.
type PeriodStatus string

const (
	PeriodInProgress PeriodStatus = "in_progress"
	PeriodFinalized  PeriodStatus = "finalized"
)

// CheckPeriod is a date-bounded audit window reviewed by a leader and an
// assistant.
type CheckPeriod struct {
	ID           int64        `json:"id"`
	Name         string       `json:"period_name"`
	BusinessYear int          `json:"business_year"`
	DateFrom     time.Time    `json:"date_from"`
	DateTo       time.Time    `json:"date_to"`
	LeaderID     int64        `json:"leader_id"`
	AssistantID  int64        `json:"assistant_id"`
	Status       PeriodStatus `json:"status"`
	FinalizedAt  *time.Time   `json:"finalized_at,omitempty"`
	FinalizedBy  *int64       `json:"finalized_by,omitempty"`
	Notes        string       `json:"notes"`
	CreatedBy    int64        `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsLeader reports whether actor leads the period.
func (p CheckPeriod) IsLeader(actor shared.Actor) bool {
	return actor.ID > 0 && actor.ID == p.LeaderID
}

// IsReviewer reports whether actor is the leader or the assistant.
func (p CheckPeriod) IsReviewer(actor shared.Actor) bool {
	return p.IsLeader(actor) || (actor.ID > 0 && actor.ID == p.AssistantID)
}

// Contains reports whether day falls inside the inclusive date range.
func (p CheckPeriod) Contains(day time.Time) bool {
	d := shared.Day(day)
	return !d.Before(shared.Day(p.DateFrom)) && !d.After(shared.Day(p.DateTo))
}

// Verdict is the outcome of reviewing one transaction.
type Verdict string

const (
	VerdictApproved           Verdict = "approved"
	VerdictUnderInvestigation Verdict = "under_investigation"
)

// CheckStatus maps the verdict onto the ledger check status.
func (v Verdict) CheckStatus() ledger.CheckStatus {
	if v == VerdictUnderInvestigation {
		return ledger.CheckStatusUnderInvestigation
	}
	return ledger.CheckStatusChecked
}

// TransactionCheck records the latest review of a transaction within a period.
type TransactionCheck struct {
	TransactionID int64     `json:"transaction_id"`
	PeriodID      int64     `json:"check_period_id"`
	CheckedBy     int64     `json:"checked_by_member_id"`
	CheckedAt     time.Time `json:"check_date"`
	Result        Verdict   `json:"check_result"`
	Remarks       string    `json:"remarks"`
}

// CreatePeriodInput holds the data for a new check period.
type CreatePeriodInput struct {
	Name         string
	BusinessYear int
	DateFrom     time.Time
	DateTo       time.Time
	LeaderID     int64
	AssistantID  int64
	Notes        string
}

// Validate checks the period input.
func (in CreatePeriodInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return shared.Invalid("period_name", "is required")
	}
	if in.BusinessYear < 1900 || in.BusinessYear > 9999 {
		return shared.Invalid("business_year", "must be a four digit year")
	}
	if in.DateFrom.IsZero() || in.DateTo.IsZero() {
		return shared.Invalid("date_from", "and date_to are required")
	}
	if shared.Day(in.DateTo).Before(shared.Day(in.DateFrom)) {
		return shared.Invalid("date_to", "must not be before date_from")
	}
	if in.LeaderID <= 0 {
		return shared.Invalid("leader_id", "is required")
	}
	if in.AssistantID <= 0 {
		return shared.Invalid("assistant_id", "is required")
	}
	if in.LeaderID == in.AssistantID {
		return shared.Invalid("assistant_id", "must differ from leader_id")
	}
	return nil
}

// RecordCheckInput is one reviewer verdict.
type RecordCheckInput struct {
	PeriodID      int64
	TransactionID int64
	Verdict       Verdict
	Remarks       string
}

// Validate checks the verdict input.
func (in RecordCheckInput) Validate() error {
	if in.PeriodID <= 0 {
		return shared.Invalid("check_period_id", "is required")
	}
	if in.TransactionID <= 0 {
		return shared.Invalid("transaction_id", "is required")
	}
	switch in.Verdict {
	case VerdictApproved:
	case VerdictUnderInvestigation:
		if strings.TrimSpace(in.Remarks) == "" {
			return shared.Invalid("remarks", "are required for under_investigation")
		}
	default:
		return shared.Invalid("check_result", "must be approved or under_investigation")
	}
	return nil
}

// CheckOutcome is returned by RecordCheck. Next is the following transaction
// in the period by booking date, nil at the end of the range.
type CheckOutcome struct {
	Check TransactionCheck    `json:"check"`
	Next  *ledger.Transaction `json:"next,omitempty"`
}

// Progress counts the transactions of a period by review state.
type Progress struct {
	Total              int `json:"total"`
	Unchecked          int `json:"unchecked"`
	Checked            int `json:"checked"`
	UnderInvestigation int `json:"under_investigation"`
}

// Done reports whether every transaction has been reviewed.
func (p Progress) Done() bool {
	return p.Unchecked == 0
}

// PeriodTransaction pairs an in-range transaction with its check in the period.
type PeriodTransaction struct {
	ledger.Transaction
	Check *TransactionCheck `json:"check,omitempty"`
}

// LockViolation is a finalized period with in-range transactions that carry no
// lock, typically rows imported after finalization.
type LockViolation struct {
	PeriodID   int64  `json:"period_id"`
	PeriodName string `json:"period_name"`
	Unlocked   int    `json:"unlocked"`
}

// FinalizeResult summarizes a finalization.
type FinalizeResult struct {
	Period CheckPeriod `json:"period"`
	Locked int         `json:"locked"`
}
