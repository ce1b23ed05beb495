// Package placement turns a customer's cart into one order plus one
// sub-order per vendor, reserving stock for every line in the same unit
// of work. Either all of it is committed or none of it is.
package placement

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/tx-lab-marketplace-go/internal/inventory"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

type Request struct {
	Customer domain.Principal
	Items    []domain.CartItem
	// IdempotencyKey, when set, makes a repeated request by the same
	// customer return the order the first one placed.
	IdempotencyKey string
}

type Result struct {
	Order *domain.Order
	// Replayed is true when the order came from an earlier request with
	// the same idempotency key.
	Replayed bool
}

type Orchestrator struct {
	store  store.Store
	ledger *inventory.Ledger
	now    func() time.Time
}

func New(s store.Store, ledger *inventory.Ledger) *Orchestrator {
	return &Orchestrator{
		store:  s,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) PlaceOrder(ctx context.Context, req Request) (Result, error) {
	if req.Customer.Role != domain.RoleCustomer {
		return Result{}, domain.Forbiddenf("only customers can place orders")
	}
	if err := validateCart(req.Items); err != nil {
		return Result{}, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)

	var res Result
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if key != "" {
			prior, err := replay(ctx, tx, req.Customer.ID, key)
			if err != nil {
				return err
			}
			if prior != nil {
				res = Result{Order: prior, Replayed: true}
				return nil
			}
		}
		placed, err := o.place(ctx, tx, req.Customer.ID, req.Items, key)
		if err != nil {
			return err
		}
		res = Result{Order: placed}
		return nil
	})

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, store.ErrIdempotencyRace):
		return o.winner(ctx, req.Customer.ID, key)
	case errors.Is(err, store.ErrSerialization):
		return Result{}, domain.ConflictOnCommit("order placement conflicted with a concurrent transaction", err)
	default:
		return Result{}, domain.Internal("place order", err)
	}
}

func validateCart(items []domain.CartItem) error {
	if len(items) == 0 {
		return domain.InvalidInputf("cart is empty")
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return domain.InvalidInputf("each item must have a product_id")
		}
		if it.Quantity <= 0 {
			return domain.InvalidInputf("quantity for product %s must be positive", id)
		}
		if _, dup := seen[id]; dup {
			return domain.InvalidInputf("product %s appears more than once in the cart", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (o *Orchestrator) place(ctx context.Context, tx store.Tx, customerID string, cart []domain.CartItem, key string) (*domain.Order, error) {
	ids := make([]string, len(cart))
	for i, it := range cart {
		ids[i] = strings.TrimSpace(it.ProductID)
	}

	snap, err := o.ledger.Snapshot(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := snap[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, domain.Unavailable(missing...)
	}

	lines := make([]domain.LineItem, len(cart))
	for i, it := range cart {
		p := snap[ids[i]]
		if p.Stock < it.Quantity {
			return nil, domain.InsufficientStock(p.ID, p.Stock, it.Quantity)
		}
		lines[i] = domain.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  it.Quantity,
			VendorID:  p.VendorID,
		}
	}

	groups := partitionByVendor(lines)
	order := &domain.Order{
		CustomerID:  customerID,
		Items:       lines,
		TotalAmount: totalOf(groups),
		Status:      domain.StatusPending,
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, domain.Internal("insert order", err)
	}
	if key != "" {
		if err := tx.PutIdempotencyKey(ctx, customerID, key, order.ID); err != nil {
			if errors.Is(err, store.ErrIdempotencyRace) {
				return nil, err
			}
			return nil, domain.Internal("store idempotency key", err)
		}
	}

	subs := make([]domain.SubOrder, 0, len(groups))
	subIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		so := domain.SubOrder{
			OrderID:  order.ID,
			VendorID: g.VendorID,
			Items:    g.Items,
			Amount:   g.Amount,
			Status:   domain.StatusPending,
		}
		if err := tx.InsertSubOrder(ctx, &so); err != nil {
			return nil, domain.Internal("insert sub-order", err)
		}
		subs = append(subs, so)
		subIDs = append(subIDs, so.ID)
	}
	if err := tx.SetSubOrderIDs(ctx, order.ID, subIDs); err != nil {
		return nil, domain.Internal("link sub-orders", err)
	}
	order.SubOrderIDs = subIDs

	// The snapshot check above can pass for two placements racing on the
	// same product; the conditional decrement is what serializes them.
	// Rows are locked in product id order so overlapping carts never
	// wait on each other in a cycle.
	for _, r := range reservationOrder(ids, cart) {
		if err := o.ledger.Reserve(ctx, tx, r.productID, r.qty); err != nil {
			switch domain.KindOf(err) {
			case domain.KindInsufficientStock, domain.KindProductUnavailable:
				return nil, domain.ConflictOnCommit("stock was reserved by a concurrent order", err)
			}
			return nil, err
		}
	}

	if err := tx.Enqueue(ctx, placedEvent(order, subs, o.now())); err != nil {
		return nil, domain.Internal("enqueue order.placed", err)
	}

	order.SubOrders = subs
	return order, nil
}

type reservation struct {
	productID string
	qty       int64
}

func reservationOrder(ids []string, cart []domain.CartItem) []reservation {
	out := make([]reservation, len(ids))
	for i, id := range ids {
		out[i] = reservation{productID: id, qty: cart[i].Quantity}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

func replay(ctx context.Context, tx store.Tx, customerID, key string) (*domain.Order, error) {
	id, err := tx.OrderByIdempotencyKey(ctx, customerID, key)
	if errors.Is(err, store.ErrRowNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal("read idempotency key", err)
	}
	prior, err := store.LoadAggregate(ctx, tx, id)
	if err != nil {
		return nil, domain.Internal("load replayed order", err)
	}
	return prior, nil
}

// winner returns the order placed by whichever request claimed key first.
func (o *Orchestrator) winner(ctx context.Context, customerID, key string) (Result, error) {
	var prior *domain.Order
	err := o.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		prior, err = replay(ctx, tx, customerID, key)
		return err
	})
	if err != nil {
		return Result{}, domain.Internal("resolve idempotency race", err)
	}
	if prior == nil {
		return Result{}, domain.ConflictOnCommit("idempotency key claimed by a request that did not commit", nil)
	}
	return Result{Order: prior, Replayed: true}, nil
}

func placedEvent(order *domain.Order, subs []domain.SubOrder, at time.Time) contracts.Event {
	parts := make([]map[string]any, 0, len(subs))
	for _, so := range subs {
		parts = append(parts, map[string]any{
			"sub_order_id": so.ID,
			"vendor_id":    so.VendorID,
			"amount":       so.Amount.StringFixed(2),
			"items":        len(so.Items),
		})
	}
	return contracts.Event{
		EventID:   uuid.NewString(),
		OrderID:   order.ID,
		CreatedAt: at,
		Type:      contracts.EventOrderPlaced,
		Payload: map[string]any{
			"customer_id":  order.CustomerID,
			"total_amount": order.TotalAmount.StringFixed(2),
			"sub_orders":   parts,
		},
	}
}
