package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vereinskasse/vereinskasse/internal/platform/db"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Repository reads transactions and opens write transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transaction, error)
	List(ctx context.Context, filter Filter) ([]Transaction, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// TxRepository holds the writes of one database transaction.
type TxRepository interface {
	Insert(ctx context.Context, in CreateInput) (Transaction, error)
	FinalizedPeriodCovering(ctx context.Context, day time.Time) (int64, bool, error)
	LockForUpdate(ctx context.Context, id int64) (Transaction, error)
	ApplyPatch(ctx context.Context, id int64, p Patch, at time.Time) (Transaction, error)
	CountPayments(ctx context.Context, id int64) (int, error)
	Delete(ctx context.Context, id int64) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// PgRepository stores transactions in Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
	*Queries
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, Queries: NewQueries(pool)}
}

// WithTx executes fn inside a database transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{Queries: NewQueries(tx), tx: tx})
	})
}

type txRepository struct {
	*Queries
	tx pgx.Tx
}

func (r *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, r.tx, log)
}

// Queries holds the transaction SQL for a pool or a transaction.
type Queries struct {
	db db.DBTX
}

// NewQueries binds the statements to an executor.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

// Columns is the select list matching ScanTransaction.
const Columns = `id, booking_date, booking_text, purpose, payer, amount, category_id, business_year, comment,
check_status, checked_in_period_id, created_at, updated_at`

// ScanTransaction scans a row selected with Columns.
func ScanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.BookingDate, &t.BookingText, &t.Purpose, &t.Payer, &t.Amount, &t.CategoryID,
		&t.BusinessYear, &t.Comment, &t.CheckStatus, &t.CheckedInPeriodID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Get loads a transaction.
func (q *Queries) Get(ctx context.Context, id int64) (Transaction, error) {
	t, err := ScanTransaction(q.db.QueryRow(ctx, `SELECT `+Columns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return Transaction{}, shared.Storage(fmt.Sprintf("ledger: get transaction %d", id), err)
	}
	return t, nil
}

// LockForUpdate loads a transaction with FOR UPDATE.
func (q *Queries) LockForUpdate(ctx context.Context, id int64) (Transaction, error) {
	t, err := ScanTransaction(q.db.QueryRow(ctx, `SELECT `+Columns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Transaction{}, shared.Storage(fmt.Sprintf("ledger: lock transaction %d", id), err)
	}
	return t, nil
}

// LockForShare loads a transaction with FOR SHARE so finalization cannot
// stamp it while a payment is being linked.
func (q *Queries) LockForShare(ctx context.Context, id int64) (Transaction, error) {
	t, err := ScanTransaction(q.db.QueryRow(ctx, `SELECT `+Columns+` FROM transactions WHERE id = $1 FOR SHARE`, id))
	if err != nil {
		return Transaction{}, shared.Storage(fmt.Sprintf("ledger: share-lock transaction %d", id), err)
	}
	return t, nil
}

func filterClause(filter Filter) (string, []any) {
	clause := ` WHERE 1=1`
	var args []any
	argPos := 1
	if !filter.From.IsZero() {
		clause += fmt.Sprintf(" AND booking_date >= $%d", argPos)
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		clause += fmt.Sprintf(" AND booking_date <= $%d", argPos)
		args = append(args, filter.To)
		argPos++
	}
	if filter.CategoryID != nil {
		clause += fmt.Sprintf(" AND category_id = $%d", argPos)
		args = append(args, *filter.CategoryID)
		argPos++
	}
	if filter.Year != nil {
		clause += fmt.Sprintf(" AND business_year = $%d", argPos)
		args = append(args, *filter.Year)
		argPos++
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		clause += fmt.Sprintf(" AND (booking_text ILIKE $%d OR purpose ILIKE $%d OR payer ILIKE $%d OR comment ILIKE $%d)", argPos, argPos, argPos, argPos)
		args = append(args, "%"+search+"%")
	}
	switch filter.Sign {
	case SignIncome:
		clause += " AND amount > 0"
	case SignExpense:
		clause += " AND amount < 0"
	}
	return clause, args
}

// List returns transactions matching filter ordered by booking date.
func (q *Queries) List(ctx context.Context, filter Filter) ([]Transaction, error) {
	where, args := filterClause(filter)
	sql := `SELECT ` + Columns + ` FROM transactions` + where + ` ORDER BY booking_date, id`
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Storage("ledger: list transactions", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		return ScanTransaction(row)
	})
	if err != nil {
		return nil, shared.Storage("ledger: list transactions", err)
	}
	return out, nil
}

// Count returns how many transactions match filter, ignoring Limit and Offset.
func (q *Queries) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := filterClause(filter)
	var n int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&n); err != nil {
		return 0, shared.Storage("ledger: count transactions", err)
	}
	return n, nil
}

// FinalizedPeriodCovering share-locks the check periods whose range contains
// day and reports the first finalized one. The share lock waits for a
// finalization of the same period in flight.
func (q *Queries) FinalizedPeriodCovering(ctx context.Context, day time.Time) (int64, bool, error) {
	rows, err := q.db.Query(ctx, `SELECT id, status FROM check_periods
WHERE $1 BETWEEN date_from AND date_to
ORDER BY id
FOR SHARE`, day)
	if err != nil {
		return 0, false, shared.Storage("ledger: periods covering booking date", err)
	}
	type periodRow struct {
		ID     int64
		Status string
	}
	periods, err := pgx.CollectRows(rows, pgx.RowToStructByPos[periodRow])
	if err != nil {
		return 0, false, shared.Storage("ledger: periods covering booking date", err)
	}
	for _, p := range periods {
		if p.Status == "finalized" {
			return p.ID, true, nil
		}
	}
	return 0, false, nil
}

// Insert stores a manually entered transaction.
func (q *Queries) Insert(ctx context.Context, in CreateInput) (Transaction, error) {
	t, err := ScanTransaction(q.db.QueryRow(ctx, `INSERT INTO transactions (booking_date, booking_text, purpose, payer, amount, category_id, business_year, comment, check_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+Columns, in.BookingDate, in.BookingText, in.Purpose, in.Payer, in.Amount, in.CategoryID, in.BusinessYear, in.Comment, CheckStatusUnchecked))
	if err != nil {
		return Transaction{}, shared.Storage("ledger: insert transaction", err)
	}
	return t, nil
}

// ApplyPatch updates only the fields present in p.
func (q *Queries) ApplyPatch(ctx context.Context, id int64, p Patch, at time.Time) (Transaction, error) {
	var sets []string
	var args []any
	argPos := 1
	if p.ClearCategory && p.CategoryID == nil {
		sets = append(sets, "category_id = NULL")
	}
	if p.CategoryID != nil {
		sets = append(sets, fmt.Sprintf("category_id = $%d", argPos))
		args = append(args, *p.CategoryID)
		argPos++
	}
	if p.BusinessYear != nil {
		sets = append(sets, fmt.Sprintf("business_year = $%d", argPos))
		args = append(args, *p.BusinessYear)
		argPos++
	}
	if p.Comment != nil {
		sets = append(sets, fmt.Sprintf("comment = $%d", argPos))
		args = append(args, *p.Comment)
		argPos++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, at)
	argPos++
	args = append(args, id)

	sql := fmt.Sprintf(`UPDATE transactions SET %s WHERE id = $%d AND checked_in_period_id IS NULL RETURNING %s`,
		strings.Join(sets, ", "), argPos, Columns)
	t, err := ScanTransaction(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("ledger: transaction %d: %w", id, shared.ErrLocked)
		}
		return Transaction{}, shared.Storage("ledger: update transaction", err)
	}
	return t, nil
}

// CountPayments counts fee and item payments sourced from the transaction.
func (q *Queries) CountPayments(ctx context.Context, id int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM member_payments WHERE transaction_id = $1) +
  (SELECT COUNT(*) FROM item_obligation_payments WHERE transaction_id = $1)`, id).Scan(&n)
	if err != nil {
		return 0, shared.Storage("ledger: count payments", err)
	}
	return n, nil
}

// Delete removes an unlocked transaction.
func (q *Queries) Delete(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND checked_in_period_id IS NULL`, id)
	if err != nil {
		return shared.Storage("ledger: delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: delete transaction %d: %w", id, shared.ErrLocked)
	}
	return nil
}
