// Package lookup reads orders and sub-orders on behalf of a principal.
// Customers see their own orders, vendors see their own sub-orders and
// admins see everything. Anything outside the caller's scope is reported
// exactly like a missing record.
package lookup

import (
	"context"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
)

type Filter struct {
	Status domain.Status
	// VendorID narrows an admin listing to orders with a sub-order for
	// that vendor. It is ignored for other roles.
	VendorID string
	Limit    int
}

type Finder struct {
	store store.Store
}

func New(s store.Store) *Finder {
	return &Finder{store: s}
}

func (f *Finder) FindAccessible(ctx context.Context, id string, p domain.Principal) (domain.Record, error) {
	var res domain.Record
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.Resolve(ctx, id)
		if err != nil {
			return domain.Internal("resolve id", err)
		}
		res, err = scoped(ctx, tx, t, p)
		return err
	})
	if err != nil {
		return domain.Record{}, domain.Internal("find order", err)
	}
	return res, nil
}

func scoped(ctx context.Context, tx store.Tx, t store.Target, p domain.Principal) (domain.Record, error) {
	notFound := domain.NotFoundf("order not found")

	switch t.Kind {
	case store.TargetParent:
		switch p.Role {
		case domain.RoleAdmin:
		case domain.RoleCustomer:
			if t.Order.CustomerID != p.ID {
				return domain.Record{}, notFound
			}
		case domain.RoleVendor:
			subs, err := tx.SubOrdersOf(ctx, t.Order.ID)
			if err != nil {
				return domain.Record{}, domain.Internal("read sub-orders", err)
			}
			for i := range subs {
				if subs[i].VendorID == p.ID {
					return domain.Record{SubOrder: &subs[i]}, nil
				}
			}
			return domain.Record{}, notFound
		default:
			return domain.Record{}, notFound
		}
		subs, err := tx.SubOrdersOf(ctx, t.Order.ID)
		if err != nil {
			return domain.Record{}, domain.Internal("read sub-orders", err)
		}
		o := *t.Order
		o.SubOrders = subs
		return domain.Record{Order: &o}, nil

	case store.TargetChild:
		if p.IsAdmin() || (p.Role == domain.RoleVendor && t.SubOrder.VendorID == p.ID) {
			return domain.Record{SubOrder: t.SubOrder}, nil
		}
	}
	return domain.Record{}, notFound
}

// ListAccessible returns the caller's orders (customers, admins) or
// sub-orders (vendors), newest first.
func (f *Finder) ListAccessible(ctx context.Context, filter Filter, p domain.Principal) ([]domain.Record, error) {
	lf := store.ListFilter{Status: filter.Status, Limit: filter.Limit}
	switch p.Role {
	case domain.RoleCustomer:
		lf.CustomerID = p.ID
	case domain.RoleVendor:
		lf.VendorID = p.ID
	case domain.RoleAdmin:
		lf.VendorID = filter.VendorID
	default:
		return nil, domain.Forbiddenf("unknown role %q", p.Role)
	}

	var out []domain.Record
	err := f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if p.Role == domain.RoleVendor {
			subs, err := tx.ListSubOrders(ctx, lf)
			if err != nil {
				return err
			}
			out = make([]domain.Record, len(subs))
			for i := range subs {
				out[i] = domain.Record{SubOrder: &subs[i]}
			}
			return nil
		}

		orders, err := tx.ListOrders(ctx, lf)
		if err != nil {
			return err
		}
		out = make([]domain.Record, len(orders))
		for i := range orders {
			subs, err := tx.SubOrdersOf(ctx, orders[i].ID)
			if err != nil {
				return err
			}
			orders[i].SubOrders = subs
			out[i] = domain.Record{Order: &orders[i]}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Internal("list orders", err)
	}
	return out, nil
}
