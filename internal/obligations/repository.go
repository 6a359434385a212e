package obligations

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

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetFee(ctx context.Context, id int64) (FeeObligation, error)
	GetItem(ctx context.Context, id int64) (ItemObligation, error)
	ListFees(ctx context.Context, filter FeeFilter) ([]FeeObligation, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]ItemObligation, error)
	ListOverdueFees(ctx context.Context, asOf time.Time) ([]FeeObligation, error)
	ListOverdueItems(ctx context.Context, asOf time.Time) ([]ItemObligation, error)
	ListActiveMemberIDs(ctx context.Context) ([]int64, error)
}

// TxRepository exposes the writes that run inside one database transaction.
type TxRepository interface {
	InsertFee(ctx context.Context, in CreateFeeInput, createdBy int64) (FeeObligation, error)
	InsertFeeIfAbsent(ctx context.Context, in CreateFeeInput, createdBy int64) (bool, error)
	InsertItem(ctx context.Context, in CreateItemInput, createdBy int64) (ItemObligation, error)
	LockFee(ctx context.Context, id int64) (FeeObligation, error)
	LockItem(ctx context.Context, id int64) (ItemObligation, error)
	SaveFeeState(ctx context.Context, o FeeObligation) error
	SaveItemState(ctx context.Context, o ItemObligation) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// PgRepository persists obligations in Postgres.
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
		return errors.New("obligations: repository not initialised")
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

// Queries holds the obligation SQL. It runs on a pool or a transaction and is
// shared with the payment linker so balance updates use the same statements.
type Queries struct {
	db db.DBTX
}

// NewQueries binds the statements to an executor.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

const feeColumns = `id, member_id, fee_year, fee_amount, paid_amount, status, due_date, notes,
marked_paid_at, marked_paid_by, created_by, created_at, updated_at`

const itemColumns = `id, member_id, receiver_name, receiver_phone, organizing_member_id, description,
total_amount, paid_amount, status, due_date, marked_paid_at, marked_paid_by, created_by, created_at, updated_at`

func scanFee(row pgx.Row) (FeeObligation, error) {
	var o FeeObligation
	err := row.Scan(&o.ID, &o.MemberID, &o.FeeYear, &o.FeeAmount, &o.PaidAmount, &o.Status, &o.DueDate, &o.Notes,
		&o.MarkedPaidAt, &o.MarkedPaidBy, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanItem(row pgx.Row) (ItemObligation, error) {
	var o ItemObligation
	err := row.Scan(&o.ID, &o.MemberID, &o.ReceiverName, &o.ReceiverPhone, &o.OrganizerID, &o.Description,
		&o.TotalAmount, &o.PaidAmount, &o.Status, &o.DueDate, &o.MarkedPaidAt, &o.MarkedPaidBy, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetFee loads a fee obligation.
func (q *Queries) GetFee(ctx context.Context, id int64) (FeeObligation, error) {
	o, err := scanFee(q.db.QueryRow(ctx, `SELECT `+feeColumns+` FROM member_fee_obligations WHERE id = $1`, id))
	if err != nil {
		return FeeObligation{}, shared.Storage(fmt.Sprintf("obligations: get fee %d", id), err)
	}
	return o, nil
}

// LockFee loads a fee obligation with FOR UPDATE.
func (q *Queries) LockFee(ctx context.Context, id int64) (FeeObligation, error) {
	o, err := scanFee(q.db.QueryRow(ctx, `SELECT `+feeColumns+` FROM member_fee_obligations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return FeeObligation{}, shared.Storage(fmt.Sprintf("obligations: lock fee %d", id), err)
	}
	return o, nil
}

// GetItem loads an item obligation.
func (q *Queries) GetItem(ctx context.Context, id int64) (ItemObligation, error) {
	o, err := scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM item_obligations WHERE id = $1`, id))
	if err != nil {
		return ItemObligation{}, shared.Storage(fmt.Sprintf("obligations: get item %d", id), err)
	}
	return o, nil
}

// LockItem loads an item obligation with FOR UPDATE.
func (q *Queries) LockItem(ctx context.Context, id int64) (ItemObligation, error) {
	o, err := scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM item_obligations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return ItemObligation{}, shared.Storage(fmt.Sprintf("obligations: lock item %d", id), err)
	}
	return o, nil
}

// InsertFee creates a fee obligation. A second row for the same member and
// year fails with ErrDuplicateKey.
func (q *Queries) InsertFee(ctx context.Context, in CreateFeeInput, createdBy int64) (FeeObligation, error) {
	o, err := scanFee(q.db.QueryRow(ctx, `INSERT INTO member_fee_obligations (member_id, fee_year, fee_amount, paid_amount, status, due_date, notes, created_by)
VALUES ($1, $2, $3, 0, $4, $5, $6, $7)
RETURNING `+feeColumns, in.MemberID, in.Year, in.Amount, FeeStatusOpen, in.DueDate, in.Notes, createdBy))
	if err != nil {
		return FeeObligation{}, shared.Storage("obligations: insert fee", err)
	}
	return o, nil
}

// InsertFeeIfAbsent creates a fee obligation unless one exists for the member
// and year. It reports whether a row was inserted.
func (q *Queries) InsertFeeIfAbsent(ctx context.Context, in CreateFeeInput, createdBy int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO member_fee_obligations (member_id, fee_year, fee_amount, paid_amount, status, due_date, notes, created_by)
VALUES ($1, $2, $3, 0, $4, $5, $6, $7)
ON CONFLICT ON CONSTRAINT member_fee_obligations_member_year_key DO NOTHING`, in.MemberID, in.Year, in.Amount, FeeStatusOpen, in.DueDate, in.Notes, createdBy)
	if err != nil {
		return false, shared.Storage("obligations: insert fee if absent", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertItem creates an item obligation.
func (q *Queries) InsertItem(ctx context.Context, in CreateItemInput, createdBy int64) (ItemObligation, error) {
	o, err := scanItem(q.db.QueryRow(ctx, `INSERT INTO item_obligations (member_id, receiver_name, receiver_phone, organizing_member_id, description, total_amount, paid_amount, status, due_date, created_by)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
RETURNING `+itemColumns, in.MemberID, strings.TrimSpace(in.ReceiverName), strings.TrimSpace(in.ReceiverPhone), in.OrganizerID,
		strings.TrimSpace(in.Description), in.Amount, ItemStatusOpen, in.DueDate, createdBy))
	if err != nil {
		return ItemObligation{}, shared.Storage("obligations: insert item", err)
	}
	return o, nil
}

// SaveFeeState writes the mutable fee columns.
func (q *Queries) SaveFeeState(ctx context.Context, o FeeObligation) error {
	tag, err := q.db.Exec(ctx, `UPDATE member_fee_obligations
SET paid_amount = $2, status = $3, notes = $4, marked_paid_at = $5, marked_paid_by = $6, updated_at = $7
WHERE id = $1`, o.ID, o.PaidAmount, o.Status, o.Notes, o.MarkedPaidAt, o.MarkedPaidBy, o.UpdatedAt)
	if err != nil {
		return shared.Storage("obligations: save fee", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("obligations: save fee %d: %w", o.ID, shared.ErrNotFound)
	}
	return nil
}

// SaveItemState writes the mutable item columns.
func (q *Queries) SaveItemState(ctx context.Context, o ItemObligation) error {
	tag, err := q.db.Exec(ctx, `UPDATE item_obligations
SET paid_amount = $2, status = $3, marked_paid_at = $4, marked_paid_by = $5, updated_at = $6
WHERE id = $1`, o.ID, o.PaidAmount, o.Status, o.MarkedPaidAt, o.MarkedPaidBy, o.UpdatedAt)
	if err != nil {
		return shared.Storage("obligations: save item", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("obligations: save item %d: %w", o.ID, shared.ErrNotFound)
	}
	return nil
}

// ListFees returns fee obligations matching filter, newest year first.
func (q *Queries) ListFees(ctx context.Context, filter FeeFilter) ([]FeeObligation, error) {
	sql := `SELECT ` + feeColumns + ` FROM member_fee_obligations WHERE 1=1`
	var args []any
	argPos := 1
	if filter.Year != nil {
		sql += fmt.Sprintf(" AND fee_year = $%d", argPos)
		args = append(args, *filter.Year)
		argPos++
	}
	if filter.MemberID != nil {
		sql += fmt.Sprintf(" AND member_id = $%d", argPos)
		args = append(args, *filter.MemberID)
		argPos++
	}
	if filter.Status != "" {
		sql += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
	}
	sql += " ORDER BY fee_year DESC, member_id, id"
	return q.queryFees(ctx, "obligations: list fees", sql, args...)
}

// ListItems returns item obligations matching filter.
func (q *Queries) ListItems(ctx context.Context, filter ItemFilter) ([]ItemObligation, error) {
	sql := `SELECT ` + itemColumns + ` FROM item_obligations WHERE 1=1`
	var args []any
	argPos := 1
	if filter.MemberID != nil {
		sql += fmt.Sprintf(" AND member_id = $%d", argPos)
		args = append(args, *filter.MemberID)
		argPos++
	}
	if filter.Status != "" {
		sql += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
	}
	sql += " ORDER BY due_date DESC, id DESC"
	return q.queryItems(ctx, "obligations: list items", sql, args...)
}

// ListOverdueFees returns open or partial fees due before asOf.
func (q *Queries) ListOverdueFees(ctx context.Context, asOf time.Time) ([]FeeObligation, error) {
	return q.queryFees(ctx, "obligations: list overdue fees", `SELECT `+feeColumns+` FROM member_fee_obligations
WHERE status IN ('open', 'partial') AND due_date < $1
ORDER BY due_date, id`, asOf)
}

// ListOverdueItems returns open items due before asOf.
func (q *Queries) ListOverdueItems(ctx context.Context, asOf time.Time) ([]ItemObligation, error) {
	return q.queryItems(ctx, "obligations: list overdue items", `SELECT `+itemColumns+` FROM item_obligations
WHERE status = 'open' AND due_date < $1
ORDER BY due_date, id`, asOf)
}

// ListActiveMemberIDs returns the members that owe a yearly fee.
func (q *Queries) ListActiveMemberIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM members WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, shared.Storage("obligations: list members", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.Storage("obligations: scan members", err)
	}
	return ids, nil
}

func (q *Queries) queryFees(ctx context.Context, op, sql string, args ...any) ([]FeeObligation, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Storage(op, err)
	}
	defer rows.Close()
	var out []FeeObligation
	for rows.Next() {
		o, err := scanFee(rows)
		if err != nil {
			return nil, shared.Storage(op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage(op, err)
	}
	return out, nil
}

func (q *Queries) queryItems(ctx context.Context, op, sql string, args ...any) ([]ItemObligation, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Storage(op, err)
	}
	defer rows.Close()
	var out []ItemObligation
	for rows.Next() {
		o, err := scanItem(rows)
		if err != nil {
			return nil, shared.Storage(op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage(op, err)
	}
	return out, nil
}
