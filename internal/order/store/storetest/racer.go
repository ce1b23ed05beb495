package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
)

var errSnapshotTaken = errors.New("storetest: product snapshot taken")

// Racer lets Between commit other work after the first unit of work has
// read its product snapshot and before it writes anything.
//
// The first WithinTx reads the snapshot in a transaction of its own, runs
// Between, then runs fn again in a fresh transaction that is served the
// now stale snapshot. That is what a READ COMMITTED transaction sees when
// another order commits between its SELECT and its UPDATE. Later calls pass
// straight through to Inner.
type Racer struct {
	Inner   store.Store
	Between func(ctx context.Context) error

	mu    sync.Mutex
	fired bool
}

func (r *Racer) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	r.mu.Lock()
	first := !r.fired
	r.fired = true
	r.mu.Unlock()
	if !first {
		return r.Inner.WithinTx(ctx, fn)
	}

	var snap []domain.Product
	err := r.Inner.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &snapshotTx{Tx: tx, capture: func(ps []domain.Product) { snap = ps }})
	})
	if !errors.Is(err, errSnapshotTaken) {
		return err
	}
	if r.Between != nil {
		if err := r.Between(ctx); err != nil {
			return err
		}
	}
	return r.Inner.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &staleTx{Tx: tx, snap: snap})
	})
}

type snapshotTx struct {
	store.Tx
	capture func([]domain.Product)
}

func (t *snapshotTx) InStockProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	ps, err := t.Tx.InStockProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	t.capture(ps)
	return nil, errSnapshotTaken
}

type staleTx struct {
	store.Tx
	snap []domain.Product
}

func (t *staleTx) InStockProducts(context.Context, []string) ([]domain.Product, error) {
	return append([]domain.Product(nil), t.snap...), nil
}

// Recorder notes the product ids passed to DecrementStock, in call order.
type Recorder struct {
	Inner store.Store

	mu         sync.Mutex
	decrements []string
}

func (r *Recorder) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return r.Inner.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &recordingTx{Tx: tx, r: r})
	})
}

func (r *Recorder) Decrements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.decrements...)
}

type recordingTx struct {
	store.Tx
	r *Recorder
}

func (t *recordingTx) DecrementStock(ctx context.Context, productID string, qty int64) (bool, error) {
	t.r.mu.Lock()
	t.r.decrements = append(t.r.decrements, productID)
	t.r.mu.Unlock()
	return t.Tx.DecrementStock(ctx, productID, qty)
}
