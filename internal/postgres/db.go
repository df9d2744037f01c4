package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema if it does not exist. Safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		description        TEXT NOT NULL DEFAULT '',
		category           TEXT NOT NULL DEFAULT '',
		price              NUMERIC(12,2) NOT NULL,
		available_quantity INT NOT NULL DEFAULT 0,
		images             TEXT[] NOT NULL DEFAULT '{}',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		tracking_id      TEXT NOT NULL UNIQUE,
		product_id       TEXT NOT NULL,
		product_name     TEXT NOT NULL,
		product_category TEXT NOT NULL DEFAULT '',
		product_image    TEXT NOT NULL DEFAULT '',
		product_price    NUMERIC(12,2) NOT NULL,
		buyer_name       TEXT NOT NULL,
		buyer_email      TEXT NOT NULL,
		quantity         INT NOT NULL CHECK (quantity >= 1),
		total_price      NUMERIC(12,2) NOT NULL,
		payment_method   TEXT NOT NULL,
		payment_status   TEXT NOT NULL,
		transaction_id   TEXT NULL,
		status           TEXT NOT NULL,
		approved_by      TEXT NOT NULL DEFAULT '',
		approved_at      TIMESTAMPTZ NULL,
		rejected_at      TIMESTAMPTZ NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_transaction_id_uniq
		ON orders(transaction_id) WHERE transaction_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS orders_status_idx ON orders(status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS orders_buyer_email_idx ON orders(buyer_email, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS tracking_events (
		id          TEXT PRIMARY KEY,
		order_id    TEXT NOT NULL,
		tracking_id TEXT NOT NULL,
		status      TEXT NOT NULL,
		location    TEXT NOT NULL DEFAULT '',
		note        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tracking_events_order_idx ON tracking_events(order_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS tracking_events_tracking_idx ON tracking_events(tracking_id, created_at)`,
}
