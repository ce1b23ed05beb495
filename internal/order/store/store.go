// Package store defines the persistence contract shared by the placement,
// lookup and reconciliation paths. Every operation runs inside a unit of
// work obtained from Store.WithinTx.
package store

import (
	"context"
	"errors"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

// ErrRowNotFound is returned by Tx getters when no row matches.
var ErrRowNotFound = errors.New("row not found")

// ErrIdempotencyRace is returned by PutIdempotencyKey when another unit of
// work already claimed the key.
var ErrIdempotencyRace = errors.New("idempotency race")

// ErrSerialization is returned when the backend aborted the unit of work
// because it conflicted with a concurrent one.
var ErrSerialization = errors.New("serialization failure")

type Store interface {
	// WithinTx runs fn in one atomic unit of work. fn's error, or a failed
	// commit, rolls back everything fn wrote.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type TargetKind int

const (
	TargetAbsent TargetKind = iota
	TargetParent
	TargetChild
)

// Target is the tagged result of resolving an id that may name either an
// order or a sub-order.
type Target struct {
	Kind     TargetKind
	Order    *domain.Order
	SubOrder *domain.SubOrder
}

type ListFilter struct {
	Status     domain.Status
	CustomerID string
	VendorID   string
	Limit      int
}

type Tx interface {
	// InStockProducts returns the requested products whose stock is > 0.
	InStockProducts(ctx context.Context, ids []string) ([]domain.Product, error)
	Product(ctx context.Context, id string) (domain.Product, error)
	// DecrementStock subtracts qty only when stock >= qty and reports whether
	// it did. It is the only writer of Product.Stock.
	DecrementStock(ctx context.Context, productID string, qty int64) (bool, error)

	InsertOrder(ctx context.Context, o *domain.Order) error
	InsertSubOrder(ctx context.Context, so *domain.SubOrder) error
	SetSubOrderIDs(ctx context.Context, orderID string, ids []string) error

	Resolve(ctx context.Context, id string) (Target, error)
	// LockOrder loads the order and holds it exclusively until the unit of
	// work ends.
	LockOrder(ctx context.Context, id string) (domain.Order, error)
	SubOrdersOf(ctx context.Context, orderID string) ([]domain.SubOrder, error)
	SetOrderStatus(ctx context.Context, orderID string, st domain.Status) error
	SetSubOrderStatus(ctx context.Context, subOrderID string, st domain.Status) error
	SetAllSubOrderStatus(ctx context.Context, orderID string, st domain.Status) error

	ListOrders(ctx context.Context, f ListFilter) ([]domain.Order, error)
	ListSubOrders(ctx context.Context, f ListFilter) ([]domain.SubOrder, error)

	OrderByIdempotencyKey(ctx context.Context, customerID, key string) (string, error)
	PutIdempotencyKey(ctx context.Context, customerID, key, orderID string) error

	Enqueue(ctx context.Context, evt contracts.Event) error
}
