// Package inventory owns the per-product stock counters. Stock only ever
// moves through Reserve, a conditional decrement that runs inside the
// caller's unit of work and is undone with it.
package inventory

import (
	"context"
	"errors"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
)

type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

// Snapshot returns the requested products that currently have stock,
// keyed by id. Products that are missing or at zero are simply absent.
func (l *Ledger) Snapshot(ctx context.Context, tx store.Tx, ids []string) (map[string]domain.Product, error) {
	products, err := tx.InStockProducts(ctx, ids)
	if err != nil {
		return nil, domain.Internal("read product snapshot", err)
	}
	out := make(map[string]domain.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// Reserve decrements productID's stock by qty if at least qty is left.
// A refused decrement is classified with a read in the same unit of work:
// an unknown product is ProductUnavailable, otherwise InsufficientStock.
func (l *Ledger) Reserve(ctx context.Context, tx store.Tx, productID string, qty int64) error {
	if qty <= 0 {
		return domain.InvalidInputf("quantity for product %s must be positive", productID)
	}
	ok, err := tx.DecrementStock(ctx, productID, qty)
	if err != nil {
		return domain.Internal("reserve stock", err)
	}
	if ok {
		return nil
	}

	p, err := tx.Product(ctx, productID)
	if errors.Is(err, store.ErrRowNotFound) {
		return domain.Unavailable(productID)
	}
	if err != nil {
		return domain.Internal("read product after refused reservation", err)
	}
	return domain.InsufficientStock(productID, p.Stock, qty)
}
