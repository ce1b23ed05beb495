package store

import (
	"context"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
)

// LoadAggregate returns the order with its sub-orders populated, or
// ErrRowNotFound if orderID does not name an order.
func LoadAggregate(ctx context.Context, tx Tx, orderID string) (*domain.Order, error) {
	t, err := tx.Resolve(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if t.Kind != TargetParent {
		return nil, ErrRowNotFound
	}
	subs, err := tx.SubOrdersOf(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o := *t.Order
	o.SubOrders = subs
	return &o, nil
}
