// Package reconcile applies status changes and keeps a parent order's
// status consistent with its sub-orders. A parent change is pushed down to
// every sub-order; a sub-order change is pulled up to the parent only when
// it is the sole sub-order or all siblings now agree.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

// Update is the outcome of SetStatus. Record is the mutated order or
// sub-order; ParentChanged tells whether a sub-order update moved the
// parent as well.
type Update struct {
	Record        domain.Record
	ParentStatus  domain.Status
	ParentChanged bool
}

type Engine struct {
	store  store.Store
	policy Policy
	now    func() time.Time
}

func New(s store.Store, policy Policy) *Engine {
	return &Engine{
		store:  s,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) SetStatus(ctx context.Context, targetID string, st domain.Status, p domain.Principal) (Update, error) {
	if _, err := domain.ParseStatus(string(st)); err != nil {
		return Update{}, err
	}

	var up Update
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.Resolve(ctx, targetID)
		if err != nil {
			return domain.Internal("resolve id", err)
		}
		switch t.Kind {
		case store.TargetParent:
			up, err = e.setParent(ctx, tx, t.Order, st, p)
		case store.TargetChild:
			up, err = e.setChild(ctx, tx, t.SubOrder, st, p)
		default:
			err = domain.NotFoundf("order %s not found", targetID)
		}
		return err
	})
	if errors.Is(err, store.ErrSerialization) {
		return Update{}, domain.ConflictOnCommit("status update conflicted with a concurrent transaction", err)
	}
	if err != nil {
		return Update{}, domain.Internal("set status", err)
	}
	return up, nil
}

func (e *Engine) setParent(ctx context.Context, tx store.Tx, o *domain.Order, st domain.Status, p domain.Principal) (Update, error) {
	if !p.IsAdmin() {
		return Update{}, domain.Forbiddenf("only admins can set an order's status")
	}
	locked, err := tx.LockOrder(ctx, o.ID)
	if err != nil {
		return Update{}, domain.Internal("lock order", err)
	}
	if err := e.policy.check(locked.Status, st); err != nil {
		return Update{}, err
	}

	if err := tx.SetOrderStatus(ctx, locked.ID, st); err != nil {
		return Update{}, domain.Internal("set order status", err)
	}
	if err := tx.SetAllSubOrderStatus(ctx, locked.ID, st); err != nil {
		return Update{}, domain.Internal("propagate status to sub-orders", err)
	}
	if err := tx.Enqueue(ctx, e.event(contracts.EventOrderStatusChanged, locked.ID, map[string]any{
		"customer_id": locked.CustomerID,
		"from":        string(locked.Status),
		"to":          string(st),
		"propagated":  true,
	})); err != nil {
		return Update{}, domain.Internal("enqueue order status event", err)
	}

	agg, err := store.LoadAggregate(ctx, tx, locked.ID)
	if err != nil {
		return Update{}, domain.Internal("reload order", err)
	}
	return Update{Record: domain.Record{Order: agg}, ParentStatus: st, ParentChanged: locked.Status != st}, nil
}

func (e *Engine) setChild(ctx context.Context, tx store.Tx, so *domain.SubOrder, st domain.Status, p domain.Principal) (Update, error) {
	if !p.IsAdmin() && !(p.Role == domain.RoleVendor && p.ID == so.VendorID) {
		return Update{}, domain.Forbiddenf("sub-order %s belongs to another vendor", so.ID)
	}

	// Holding the parent serializes every status write within this order,
	// so the sibling read below cannot go stale before the parent write.
	parent, err := tx.LockOrder(ctx, so.OrderID)
	if err != nil {
		return Update{}, domain.Internal("lock parent order", err)
	}
	siblings, err := tx.SubOrdersOf(ctx, parent.ID)
	if err != nil {
		return Update{}, domain.Internal("read sibling sub-orders", err)
	}
	idx := -1
	for i := range siblings {
		if siblings[i].ID == so.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Update{}, domain.Internal("read sibling sub-orders", store.ErrRowNotFound)
	}
	if err := e.policy.check(siblings[idx].Status, st); err != nil {
		return Update{}, err
	}

	if err := tx.SetSubOrderStatus(ctx, so.ID, st); err != nil {
		return Update{}, domain.Internal("set sub-order status", err)
	}
	from := siblings[idx].Status
	siblings[idx].Status = st

	derived := DeriveParent(parent.Status, siblings)
	changed := derived != parent.Status
	if changed {
		if err := tx.SetOrderStatus(ctx, parent.ID, derived); err != nil {
			return Update{}, domain.Internal("set parent status", err)
		}
		if err := tx.Enqueue(ctx, e.event(contracts.EventOrderStatusChanged, parent.ID, map[string]any{
			"customer_id": parent.CustomerID,
			"from":        string(parent.Status),
			"to":          string(derived),
			"propagated":  false,
		})); err != nil {
			return Update{}, domain.Internal("enqueue order status event", err)
		}
	}
	if err := tx.Enqueue(ctx, e.event(contracts.EventSubOrderStatusChanged, parent.ID, map[string]any{
		"customer_id":  parent.CustomerID,
		"sub_order_id": so.ID,
		"vendor_id":    so.VendorID,
		"from":         string(from),
		"to":           string(st),
	})); err != nil {
		return Update{}, domain.Internal("enqueue sub-order status event", err)
	}

	t, err := tx.Resolve(ctx, so.ID)
	if err != nil || t.Kind != store.TargetChild {
		return Update{}, domain.Internal("reload sub-order", errors.Join(err, store.ErrRowNotFound))
	}
	return Update{Record: domain.Record{SubOrder: t.SubOrder}, ParentStatus: derived, ParentChanged: changed}, nil
}

// DeriveParent computes the parent status after a sub-order change. A lone
// sub-order is mirrored; several must all agree before the parent moves.
func DeriveParent(current domain.Status, siblings []domain.SubOrder) domain.Status {
	if len(siblings) == 0 {
		return current
	}
	if len(siblings) == 1 {
		return siblings[0].Status
	}
	first := siblings[0].Status
	for _, so := range siblings[1:] {
		if so.Status != first {
			return current
		}
	}
	return first
}

func (e *Engine) event(typ, orderID string, payload map[string]any) contracts.Event {
	return contracts.Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		CreatedAt: e.now(),
		Type:      typ,
		Payload:   payload,
	}
}
