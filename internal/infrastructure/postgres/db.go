package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL DEFAULT '',
	images      JSONB NOT NULL DEFAULT '[]',
	price       NUMERIC(12,2) NOT NULL,
	stock       INTEGER NOT NULL CHECK (stock >= 0),
	sold_count  INTEGER NOT NULL DEFAULT 0,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS product_variants (
	product_id  TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	sku         TEXT NOT NULL DEFAULT '',
	price       NUMERIC(12,2),
	stock       INTEGER NOT NULL CHECK (stock >= 0),
	PRIMARY KEY (product_id, id)
);

CREATE TABLE IF NOT EXISTS orders (
	id                  TEXT PRIMARY KEY,
	number              TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	status              TEXT NOT NULL,
	payment             JSONB NOT NULL,
	items               JSONB NOT NULL,
	shipping_address    JSONB NOT NULL,
	pricing             JSONB NOT NULL,
	status_history      JSONB NOT NULL,
	notes               TEXT NOT NULL DEFAULT '',
	delivered_at        TIMESTAMPTZ,
	cancelled_at        TIMESTAMPTZ,
	cancellation_reason TEXT NOT NULL DEFAULT '',
	version             BIGINT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	CONSTRAINT orders_number_key UNIQUE (number)
);
CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS payments (
	seq            BIGSERIAL,
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL REFERENCES orders(id),
	user_id        TEXT NOT NULL,
	gateway        TEXT NOT NULL,
	amount         NUMERIC(12,2) NOT NULL,
	currency       TEXT NOT NULL,
	status         TEXT NOT NULL,
	transaction_id TEXT NOT NULL DEFAULT '',
	reference_id   TEXT NOT NULL DEFAULT '',
	raw_response   JSONB,
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS payments_order_gateway_idx ON payments (order_id, gateway, seq DESC);
`

// Migrate creates the tables if they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// inTx runs fn inside a transaction, rolling back on any error.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// numeric values travel as text so no precision is lost in either direction.
func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("postgres: numeric %q: %w", s, err)
	}
	return d, nil
}
