package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements is applied on every start; each statement is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
	id          BIGSERIAL PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('sale', 'purchase', 'payment')),
	product     TEXT,
	quantity    BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	customer    TEXT NOT NULL DEFAULT 'walk-in',
	settlement  TEXT NOT NULL CHECK (settlement IN ('cash', 'credit')),
	amount      NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (amount >= 0),
	raw_text    TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS transactions_owner_occurred_idx ON transactions (owner_id, occurred_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS inventory (
	id         BIGSERIAL PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	product    TEXT NOT NULL,
	quantity   BIGINT NOT NULL DEFAULT 0,
	unit_price NUMERIC(18,2) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (owner_id, product)
)`,
	`CREATE TABLE IF NOT EXISTS credit_ledger (
	id         BIGSERIAL PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	customer   TEXT NOT NULL,
	balance    NUMERIC(18,2) NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (owner_id, customer)
)`,
}

// EnsureSchema creates the ledger tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: ensure schema: %w", err)
		}
	}
	return nil
}
