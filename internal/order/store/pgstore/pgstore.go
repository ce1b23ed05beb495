// Package pgstore implements store.Store on PostgreSQL. Stock is only ever
// changed by a conditional UPDATE, and status writers lock the parent order
// row, so the default READ COMMITTED isolation is enough for both the
// no-oversell and the reconciliation guarantees.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/outbox"
)

type Store struct {
	pool  *pgxpool.Pool
	topic string
}

func New(pool *pgxpool.Pool, topic string) *Store {
	return &Store{pool: pool, topic: topic}
}

// Open creates a pool and checks that the database answers.
func Open(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Outbox exposes the committed outbox rows to the relay.
func (s *Store) Outbox() outbox.PoolSource { return outbox.PoolSource{Pool: s.pool} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, topic: s.topic}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// UpsertProduct seeds or replaces a catalog row.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products(id, name, price, stock, vendor_id, category)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			vendor_id = EXCLUDED.vendor_id,
			category = EXCLUDED.category`,
		p.ID, p.Name, p.Price.String(), p.Stock, p.VendorID, p.Category)
	return err
}

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// classify marks errors the backend raised because of a concurrent unit of
// work, keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", store.ErrSerialization, err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrRowNotFound
	}
	return err
}
