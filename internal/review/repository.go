package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/platform/db"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Repository is the read side of the review workflow plus the transaction
// entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPeriod(ctx context.Context, id int64) (CheckPeriod, error)
	ListPeriods(ctx context.Context, year *int) ([]CheckPeriod, error)
	Progress(ctx context.Context, period CheckPeriod) (Progress, error)
	ListPeriodTransactions(ctx context.Context, period CheckPeriod) ([]PeriodTransaction, error)
	NextTransaction(ctx context.Context, period CheckPeriod, after ledger.Transaction) (*ledger.Transaction, error)
	LockViolations(ctx context.Context) ([]LockViolation, error)
}

// TxRepository holds the writes of period creation, checks and finalization.
type TxRepository interface {
	InsertPeriod(ctx context.Context, in CreatePeriodInput, createdBy int64) (CheckPeriod, error)
	LockPeriod(ctx context.Context, id int64) (CheckPeriod, error)
	SharePeriod(ctx context.Context, id int64) (CheckPeriod, error)
	LockTransaction(ctx context.Context, id int64) (ledger.Transaction, error)
	UpsertCheck(ctx context.Context, check TransactionCheck) (TransactionCheck, error)
	SetCheckStatus(ctx context.Context, txID int64, status ledger.CheckStatus, at time.Time) error
	CountUnchecked(ctx context.Context, period CheckPeriod) (int, error)
	MarkFinalized(ctx context.Context, periodID, by int64, at time.Time) (CheckPeriod, error)
	StampLocks(ctx context.Context, period CheckPeriod, at time.Time) (int, error)
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// PgRepository stores check periods in Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
	*queries
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, queries: &queries{db: pool}}
}

// WithTx executes fn inside a database transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("review: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: &queries{db: tx}, ledger: ledger.NewQueries(tx), tx: tx})
	})
}

type txRepository struct {
	*queries
	ledger *ledger.Queries
	tx     pgx.Tx
}

func (r *txRepository) LockTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	return r.ledger.LockForUpdate(ctx, id)
}

func (r *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, r.tx, log)
}

type queries struct {
	db db.DBTX
}

const periodColumns = `id, period_name, business_year, date_from, date_to, leader_id, assistant_id, status,
finalized_at, finalized_by, notes, created_by, created_at`

func scanPeriod(row pgx.Row) (CheckPeriod, error) {
	var p CheckPeriod
	err := row.Scan(&p.ID, &p.Name, &p.BusinessYear, &p.DateFrom, &p.DateTo, &p.LeaderID, &p.AssistantID, &p.Status,
		&p.FinalizedAt, &p.FinalizedBy, &p.Notes, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func (q *queries) GetPeriod(ctx context.Context, id int64) (CheckPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM check_periods WHERE id = $1`, id))
	if err != nil {
		return CheckPeriod{}, shared.Storage(fmt.Sprintf("review: get period %d", id), err)
	}
	return p, nil
}

func (q *queries) ListPeriods(ctx context.Context, year *int) ([]CheckPeriod, error) {
	sql := `SELECT ` + periodColumns + ` FROM check_periods`
	var args []any
	if year != nil {
		sql += ` WHERE business_year = $1`
		args = append(args, *year)
	}
	sql += ` ORDER BY date_from DESC, id DESC`
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Storage("review: list periods", err)
	}
	periods, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CheckPeriod, error) {
		return scanPeriod(row)
	})
	if err != nil {
		return nil, shared.Storage("review: scan periods", err)
	}
	return periods, nil
}

func (q *queries) Progress(ctx context.Context, period CheckPeriod) (Progress, error) {
	var p Progress
	err := q.db.QueryRow(ctx, `SELECT COUNT(*),
  COUNT(*) FILTER (WHERE check_status = 'unchecked'),
  COUNT(*) FILTER (WHERE check_status = 'checked'),
  COUNT(*) FILTER (WHERE check_status = 'under_investigation')
FROM transactions WHERE booking_date BETWEEN $1 AND $2`, period.DateFrom, period.DateTo).
		Scan(&p.Total, &p.Unchecked, &p.Checked, &p.UnderInvestigation)
	if err != nil {
		return Progress{}, shared.Storage(fmt.Sprintf("review: progress of period %d", period.ID), err)
	}
	return p, nil
}

func (q *queries) ListPeriodTransactions(ctx context.Context, period CheckPeriod) ([]PeriodTransaction, error) {
	rows, err := q.db.Query(ctx, `SELECT t.id, t.booking_date, t.booking_text, t.purpose, t.payer, t.amount, t.category_id,
  t.business_year, t.comment, t.check_status, t.checked_in_period_id, t.created_at, t.updated_at,
  c.checked_by_member_id, c.check_date, c.check_result, c.remarks
FROM transactions t
LEFT JOIN transaction_checks c ON c.transaction_id = t.id AND c.check_period_id = $3
WHERE t.booking_date BETWEEN $1 AND $2
ORDER BY t.booking_date, t.id`, period.DateFrom, period.DateTo, period.ID)
	if err != nil {
		return nil, shared.Storage("review: list period transactions", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PeriodTransaction, error) {
		var (
			pt        PeriodTransaction
			checkedBy *int64
			checkedAt *time.Time
			result    *string
			remarks   *string
		)
		t := &pt.Transaction
		err := row.Scan(&t.ID, &t.BookingDate, &t.BookingText, &t.Purpose, &t.Payer, &t.Amount, &t.CategoryID,
			&t.BusinessYear, &t.Comment, &t.CheckStatus, &t.CheckedInPeriodID, &t.CreatedAt, &t.UpdatedAt,
			&checkedBy, &checkedAt, &result, &remarks)
		if err != nil {
			return pt, err
		}
		if checkedBy != nil && checkedAt != nil && result != nil {
			pt.Check = &TransactionCheck{
				TransactionID: t.ID,
				PeriodID:      period.ID,
				CheckedBy:     *checkedBy,
				CheckedAt:     *checkedAt,
				Result:        Verdict(*result),
			}
			if remarks != nil {
				pt.Check.Remarks = *remarks
			}
		}
		return pt, nil
	})
	if err != nil {
		return nil, shared.Storage("review: scan period transactions", err)
	}
	return out, nil
}

func (q *queries) NextTransaction(ctx context.Context, period CheckPeriod, after ledger.Transaction) (*ledger.Transaction, error) {
	t, err := ledger.ScanTransaction(q.db.QueryRow(ctx, `SELECT `+ledger.Columns+` FROM transactions
WHERE booking_date BETWEEN $1 AND $2 AND (booking_date, id) > ($3, $4)
ORDER BY booking_date, id
LIMIT 1`, period.DateFrom, period.DateTo, after.BookingDate, after.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.Storage("review: next transaction", err)
	}
	return &t, nil
}

func (q *queries) LockViolations(ctx context.Context) ([]LockViolation, error) {
	rows, err := q.db.Query(ctx, `SELECT p.id, p.period_name, COUNT(t.id)
FROM check_periods p
JOIN transactions t ON t.booking_date BETWEEN p.date_from AND p.date_to AND t.checked_in_period_id IS NULL
WHERE p.status = 'finalized'
GROUP BY p.id, p.period_name
ORDER BY p.id`)
	if err != nil {
		return nil, shared.Storage("review: lock violations", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LockViolation, error) {
		var v LockViolation
		err := row.Scan(&v.PeriodID, &v.PeriodName, &v.Unlocked)
		return v, err
	})
	if err != nil {
		return nil, shared.Storage("review: scan lock violations", err)
	}
	return out, nil
}

func (q *queries) InsertPeriod(ctx context.Context, in CreatePeriodInput, createdBy int64) (CheckPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `INSERT INTO check_periods
  (period_name, business_year, date_from, date_to, leader_id, assistant_id, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+periodColumns, in.Name, in.BusinessYear, in.DateFrom, in.DateTo, in.LeaderID, in.AssistantID, in.Notes, createdBy))
	if err != nil {
		return CheckPeriod{}, shared.Storage("review: insert period", err)
	}
	return p, nil
}

func (q *queries) LockPeriod(ctx context.Context, id int64) (CheckPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM check_periods WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return CheckPeriod{}, shared.Storage(fmt.Sprintf("review: lock period %d", id), err)
	}
	return p, nil
}

func (q *queries) SharePeriod(ctx context.Context, id int64) (CheckPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `SELECT `+periodColumns+` FROM check_periods WHERE id = $1 FOR SHARE`, id))
	if err != nil {
		return CheckPeriod{}, shared.Storage(fmt.Sprintf("review: share-lock period %d", id), err)
	}
	return p, nil
}

func (q *queries) UpsertCheck(ctx context.Context, check TransactionCheck) (TransactionCheck, error) {
	var out TransactionCheck
	err := q.db.QueryRow(ctx, `INSERT INTO transaction_checks
  (transaction_id, check_period_id, checked_by_member_id, check_date, check_result, remarks)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (transaction_id, check_period_id) DO UPDATE SET
  checked_by_member_id = EXCLUDED.checked_by_member_id,
  check_date = EXCLUDED.check_date,
  check_result = EXCLUDED.check_result,
  remarks = EXCLUDED.remarks
RETURNING transaction_id, check_period_id, checked_by_member_id, check_date, check_result, remarks`,
		check.TransactionID, check.PeriodID, check.CheckedBy, check.CheckedAt, check.Result, check.Remarks).
		Scan(&out.TransactionID, &out.PeriodID, &out.CheckedBy, &out.CheckedAt, &out.Result, &out.Remarks)
	if err != nil {
		return TransactionCheck{}, shared.Storage("review: upsert check", err)
	}
	return out, nil
}

func (q *queries) SetCheckStatus(ctx context.Context, txID int64, status ledger.CheckStatus, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET check_status = $2, updated_at = $3
WHERE id = $1 AND checked_in_period_id IS NULL`, txID, status, at)
	if err != nil {
		return shared.Storage("review: set check status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("review: transaction %d: %w", txID, shared.ErrLocked)
	}
	return nil
}

func (q *queries) CountUnchecked(ctx context.Context, period CheckPeriod) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions
WHERE booking_date BETWEEN $1 AND $2 AND check_status = 'unchecked'`, period.DateFrom, period.DateTo).Scan(&n)
	if err != nil {
		return 0, shared.Storage("review: count unchecked", err)
	}
	return n, nil
}

func (q *queries) MarkFinalized(ctx context.Context, periodID, by int64, at time.Time) (CheckPeriod, error) {
	p, err := scanPeriod(q.db.QueryRow(ctx, `UPDATE check_periods
SET status = 'finalized', finalized_at = $2, finalized_by = $3
WHERE id = $1 AND status = 'in_progress'
RETURNING `+periodColumns, periodID, at, by))
	if errors.Is(err, pgx.ErrNoRows) {
		return CheckPeriod{}, fmt.Errorf("review: period %d already finalized: %w", periodID, shared.ErrInvalidState)
	}
	if err != nil {
		return CheckPeriod{}, shared.Storage("review: finalize period", err)
	}
	return p, nil
}

func (q *queries) StampLocks(ctx context.Context, period CheckPeriod, at time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET checked_in_period_id = $1, updated_at = $4
WHERE booking_date BETWEEN $2 AND $3
  AND checked_in_period_id IS NULL
  AND check_status <> 'unchecked'`, period.ID, period.DateFrom, period.DateTo, at)
	if err != nil {
		return 0, shared.Storage("review: stamp locks", err)
	}
	return int(tag.RowsAffected()), nil
}
