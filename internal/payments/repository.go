package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vereinskasse/vereinskasse/internal/ledger"
	"github.com/vereinskasse/vereinskasse/internal/obligations"
	"github.com/vereinskasse/vereinskasse/internal/platform/db"
	"github.com/vereinskasse/vereinskasse/internal/shared"
)

// Repository reads payments and opens write transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListPayments(ctx context.Context, kind Kind, obligationID int64) ([]Payment, error)
	ListByTransaction(ctx context.Context, txID int64) ([]Payment, error)
	Allocation(ctx context.Context, txID int64) (Allocation, error)
}

// TxRepository is everything a link or unlink touches, bound to one database
// transaction.
type TxRepository interface {
	LockFee(ctx context.Context, id int64) (obligations.FeeObligation, error)
	LockItem(ctx context.Context, id int64) (obligations.ItemObligation, error)
	SaveFeeState(ctx context.Context, o obligations.FeeObligation) error
	SaveItemState(ctx context.Context, o obligations.ItemObligation) error
	LockForShare(ctx context.Context, id int64) (ledger.Transaction, error)
	InsertPayment(ctx context.Context, kind Kind, in LinkInput, createdBy int64) (Payment, error)
	LockPayment(ctx context.Context, kind Kind, id int64) (Payment, error)
	DeletePayment(ctx context.Context, kind Kind, id int64) error
	ClaimIdempotencyKey(ctx context.Context, key uuid.UUID, module string) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// PgRepository stores payments in Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
	q    *queries
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: &queries{db: pool}}
}

// WithTx executes fn inside a database transaction whose obligation, ledger
// and payment statements all share the same pgx.Tx.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("payments: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			Queries: obligations.NewQueries(tx),
			ledger:  ledger.NewQueries(tx),
			queries: &queries{db: tx},
			tx:      tx,
		})
	})
}

// ListPayments returns the payments of one obligation.
func (r *PgRepository) ListPayments(ctx context.Context, kind Kind, obligationID int64) ([]Payment, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	return r.q.list(ctx, kind, `SELECT `+paymentColumns+` FROM `+table+` WHERE obligation_id = $1 ORDER BY payment_date, id`, obligationID)
}

// ListByTransaction returns fee and item payments funded by a transaction.
func (r *PgRepository) ListByTransaction(ctx context.Context, txID int64) ([]Payment, error) {
	fees, err := r.q.list(ctx, KindFee, `SELECT `+paymentColumns+` FROM member_payments WHERE transaction_id = $1 ORDER BY id`, txID)
	if err != nil {
		return nil, err
	}
	items, err := r.q.list(ctx, KindItem, `SELECT `+paymentColumns+` FROM item_obligation_payments WHERE transaction_id = $1 ORDER BY id`, txID)
	if err != nil {
		return nil, err
	}
	return append(fees, items...), nil
}

// Allocation sums the payments already linked to a transaction.
func (r *PgRepository) Allocation(ctx context.Context, txID int64) (Allocation, error) {
	var amount, linked decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT t.amount,
  COALESCE((SELECT SUM(amount) FROM member_payments WHERE transaction_id = t.id), 0) +
  COALESCE((SELECT SUM(amount) FROM item_obligation_payments WHERE transaction_id = t.id), 0)
FROM transactions t WHERE t.id = $1`, txID).Scan(&amount, &linked)
	if err != nil {
		return Allocation{}, shared.Storage(fmt.Sprintf("payments: allocation of transaction %d", txID), err)
	}
	return NewAllocation(txID, amount, linked), nil
}

type txRepository struct {
	*obligations.Queries
	*queries
	ledger *ledger.Queries
	tx     pgx.Tx
}

func (r *txRepository) LockForShare(ctx context.Context, id int64) (ledger.Transaction, error) {
	return r.ledger.LockForShare(ctx, id)
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key uuid.UUID, module string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, module)
}

func (r *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.RecordAudit(ctx, r.tx, log)
}

type queries struct {
	db db.DBTX
}

const paymentColumns = `id, obligation_id, transaction_id, amount, payment_date, payment_method, notes, created_by, created_at`

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindFee:
		return "member_payments", nil
	case KindItem:
		return "item_obligation_payments", nil
	default:
		return "", shared.Invalid("kind", "must be fee or item")
	}
}

func scanPayment(row pgx.Row, kind Kind) (Payment, error) {
	p := Payment{Kind: kind}
	err := row.Scan(&p.ID, &p.ObligationID, &p.TransactionID, &p.Amount, &p.PaymentDate, &p.Method, &p.Notes, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func (q *queries) InsertPayment(ctx context.Context, kind Kind, in LinkInput, createdBy int64) (Payment, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Payment{}, err
	}
	p, err := scanPayment(q.db.QueryRow(ctx, `INSERT INTO `+table+` (obligation_id, transaction_id, amount, payment_date, payment_method, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+paymentColumns, in.ObligationID, in.TransactionID, in.Amount, in.PaymentDate, in.Method, in.Notes, createdBy), kind)
	if err != nil {
		return Payment{}, shared.Storage("payments: insert", err)
	}
	return p, nil
}

func (q *queries) LockPayment(ctx context.Context, kind Kind, id int64) (Payment, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Payment{}, err
	}
	p, err := scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM `+table+` WHERE id = $1 FOR UPDATE`, id), kind)
	if err != nil {
		return Payment{}, shared.Storage(fmt.Sprintf("payments: lock %s payment %d", kind, id), err)
	}
	return p, nil
}

func (q *queries) DeletePayment(ctx context.Context, kind Kind, id int64) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return shared.Storage("payments: delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: %s payment %d: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}

func (q *queries) list(ctx context.Context, kind Kind, sql string, args ...any) ([]Payment, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Storage("payments: list", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows, kind)
		if err != nil {
			return nil, shared.Storage("payments: scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Storage("payments: list", err)
	}
	return out, nil
}
