package pgstore

import (
	"context"
	"fmt"
)

// Ids are TEXT rather than UUID so that a lookup by an arbitrary string is
// a plain miss instead of a cast error.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock BIGINT NOT NULL CHECK (stock >= 0),
		vendor_id TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		items JSONB NOT NULL,
		total_amount NUMERIC(12,2) NOT NULL,
		status TEXT NOT NULL,
		sub_order_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_customer_created ON orders(customer_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS sub_orders (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		vendor_id TEXT NOT NULL,
		items JSONB NOT NULL,
		amount NUMERIC(12,2) NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sub_orders_order ON sub_orders(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sub_orders_vendor_created ON sub_orders(vendor_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS order_idempotency (
		customer_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		order_id TEXT NOT NULL REFERENCES orders(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (customer_id, idempotency_key)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		key TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		sent_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(id) WHERE sent_at IS NULL`,
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}
