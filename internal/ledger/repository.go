package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/duka-ledger/duka/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction. Errors are classified into
// ErrConflict, ErrUnavailable and ErrOutcomeUnknown where the cause is known.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return classifyError(err)
}

// WithSnapshot runs fn against a repeatable-read, read-only transaction.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, db.Snapshot, func(tx pgx.Tx) error {
		return fn(ctx, &snapshotReader{tx: tx})
	})
	var commitErr *db.CommitError
	if errors.As(err, &commitErr) {
		// Nothing to lose on a read-only transaction.
		return fmt.Errorf("%w: %w", ErrUnavailable, commitErr.Err)
	}
	return classifyError(err)
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO transactions (owner_id, kind, product, quantity, customer, settlement, amount, raw_text, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, amount, occurred_at`,
		txn.Owner, string(txn.Kind), nullString(txn.Product), txn.Quantity, txn.Customer, string(txn.Settlement), txn.Amount, txn.RawText, txn.OccurredAt).
		Scan(&txn.ID, &txn.Amount, &txn.OccurredAt)
	return txn, err
}

func (r *txRepository) AdjustInventory(ctx context.Context, owner, product string, delta int64, unitPrice decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory (owner_id, product, quantity, unit_price, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (owner_id, product) DO UPDATE SET
	quantity = inventory.quantity + EXCLUDED.quantity,
	unit_price = CASE WHEN EXCLUDED.unit_price > 0 THEN EXCLUDED.unit_price ELSE inventory.unit_price END,
	updated_at = NOW()`, owner, product, delta, unitPrice)
	return err
}

func (r *txRepository) AdjustCredit(ctx context.Context, owner, customer string, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO credit_ledger (owner_id, customer, balance, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (owner_id, customer) DO UPDATE SET
	balance = credit_ledger.balance + EXCLUDED.balance,
	updated_at = NOW()`, owner, customer, delta)
	return err
}

type snapshotReader struct {
	tx pgx.Tx
}

func (r *snapshotReader) CashSalesRevenue(ctx context.Context, owner string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions
WHERE owner_id=$1 AND kind='sale' AND settlement='cash'`, owner).Scan(&total)
	return total, err
}

func (r *snapshotReader) OutstandingCredit(ctx context.Context, owner string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM credit_ledger WHERE owner_id=$1`, owner).Scan(&total)
	return total, err
}

func (r *snapshotReader) TopProducts(ctx context.Context, owner string, limit int) ([]ProductSales, error) {
	rows, err := r.tx.Query(ctx, `SELECT product, SUM(quantity) AS sold
FROM transactions
WHERE owner_id=$1 AND kind='sale' AND product IS NOT NULL AND product <> ''
GROUP BY product
ORDER BY sold DESC, product ASC
LIMIT $2`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ProductSales{}
	for rows.Next() {
		var p ProductSales
		if err := rows.Scan(&p.Product, &p.QuantitySold); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const transactionColumns = `id, owner_id, kind, COALESCE(product, ''), quantity, customer, settlement, amount, raw_text, occurred_at`

func (r *snapshotReader) RecentTransactions(ctx context.Context, owner string, limit int) ([]Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
WHERE owner_id=$1 ORDER BY occurred_at DESC, id DESC LIMIT $2`, owner, limit)
}

func (r *snapshotReader) Transactions(ctx context.Context, owner string) ([]Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
WHERE owner_id=$1 ORDER BY id ASC`, owner)
}

func (r *snapshotReader) queryTransactions(ctx context.Context, sql string, args ...any) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Transaction{}
	for rows.Next() {
		var t Transaction
		var kind, settlement string
		if err := rows.Scan(&t.ID, &t.Owner, &kind, &t.Product, &t.Quantity, &t.Customer, &settlement, &t.Amount, &t.RawText, &t.OccurredAt); err != nil {
			return nil, err
		}
		t.Kind = Kind(kind)
		t.Settlement = Settlement(settlement)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *snapshotReader) Inventory(ctx context.Context, owner string) ([]InventoryItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT owner_id, product, quantity, unit_price, updated_at
FROM inventory WHERE owner_id=$1 ORDER BY product ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InventoryItem{}
	for rows.Next() {
		var item InventoryItem
		if err := rows.Scan(&item.Owner, &item.Product, &item.Quantity, &item.UnitPrice, &item.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *snapshotReader) CreditLedger(ctx context.Context, owner string) ([]CreditEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT owner_id, customer, balance, updated_at
FROM credit_ledger WHERE owner_id=$1 ORDER BY customer ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CreditEntry{}
	for rows.Next() {
		var entry CreditEntry
		if err := rows.Scan(&entry.Owner, &entry.Customer, &entry.Balance, &entry.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *snapshotReader) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.tx.Query(ctx, `SELECT DISTINCT owner_id FROM transactions ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

// PostgreSQL error codes that mean the transaction lost a race and was rolled back.
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidCandidate) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnavailable) || errors.Is(err, ErrOutcomeUnknown) {
		return err
	}

	var pgErr *pgconn.PgError
	isPg := errors.As(err, &pgErr)

	var commitErr *db.CommitError
	if errors.As(err, &commitErr) {
		// The server rejected the commit with a conflict: it rolled back.
		if isPg && conflictCodes[pgErr.Code] {
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}

	switch {
	case isPg && conflictCodes[pgErr.Code]:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case isPg && pgErr.Code == "23514", // check_violation
		isPg && pgErr.Code == "22003": // numeric_value_out_of_range
		return fmt.Errorf("%w: %w", ErrInvalidCandidate, err)
	case isPg:
		return err
	}

	var beginErr *db.BeginError
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &beginErr),
		errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.SafeToRetry(err),
		pgconn.Timeout(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
