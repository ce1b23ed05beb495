// Package storetest provides store wrappers for failure-injection tests.
package storetest

import (
	"context"
	"sync"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

// Step names a store.Tx method that Faulty can fail.
type Step string

const (
	StepInStockProducts Step = "InStockProducts"
	StepInsertOrder     Step = "InsertOrder"
	StepPutIdempotency  Step = "PutIdempotencyKey"
	StepInsertSubOrder  Step = "InsertSubOrder"
	StepSetSubOrderIDs  Step = "SetSubOrderIDs"
	StepDecrementStock  Step = "DecrementStock"
	StepEnqueue         Step = "Enqueue"
	StepSetOrderStatus  Step = "SetOrderStatus"
	StepSetSubStatus    Step = "SetSubOrderStatus"
	StepSetAllSubStatus Step = "SetAllSubOrderStatus"
)

// Faulty wraps a store and makes the Nth call (1-based) to Step return Err.
// With Nth == 0 the first call fails.
type Faulty struct {
	Inner store.Store
	Step  Step
	Nth   int
	Err   error

	// Drained lists products whose stock a concurrent order has already
	// taken: DecrementStock refuses them and Product reports zero stock.
	Drained map[string]bool

	mu    sync.Mutex
	calls map[Step]int
}

func (f *Faulty) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return f.Inner.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, f: f})
	})
}

func (f *Faulty) hit(step Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[Step]int{}
	}
	f.calls[step]++
	if step != f.Step || f.Err == nil {
		return nil
	}
	nth := f.Nth
	if nth == 0 {
		nth = 1
	}
	if f.calls[step] == nth {
		return f.Err
	}
	return nil
}

type faultyTx struct {
	store.Tx
	f *Faulty
}

func (t *faultyTx) InStockProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := t.f.hit(StepInStockProducts); err != nil {
		return nil, err
	}
	return t.Tx.InStockProducts(ctx, ids)
}

func (t *faultyTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	if err := t.f.hit(StepInsertOrder); err != nil {
		return err
	}
	return t.Tx.InsertOrder(ctx, o)
}

func (t *faultyTx) PutIdempotencyKey(ctx context.Context, customerID, key, orderID string) error {
	if err := t.f.hit(StepPutIdempotency); err != nil {
		return err
	}
	return t.Tx.PutIdempotencyKey(ctx, customerID, key, orderID)
}

func (t *faultyTx) InsertSubOrder(ctx context.Context, so *domain.SubOrder) error {
	if err := t.f.hit(StepInsertSubOrder); err != nil {
		return err
	}
	return t.Tx.InsertSubOrder(ctx, so)
}

func (t *faultyTx) SetSubOrderIDs(ctx context.Context, orderID string, ids []string) error {
	if err := t.f.hit(StepSetSubOrderIDs); err != nil {
		return err
	}
	return t.Tx.SetSubOrderIDs(ctx, orderID, ids)
}

func (t *faultyTx) DecrementStock(ctx context.Context, productID string, qty int64) (bool, error) {
	if err := t.f.hit(StepDecrementStock); err != nil {
		return false, err
	}
	if t.f.Drained[productID] {
		return false, nil
	}
	return t.Tx.DecrementStock(ctx, productID, qty)
}

func (t *faultyTx) Product(ctx context.Context, id string) (domain.Product, error) {
	p, err := t.Tx.Product(ctx, id)
	if err == nil && t.f.Drained[id] {
		p.Stock = 0
	}
	return p, err
}

func (t *faultyTx) Enqueue(ctx context.Context, evt contracts.Event) error {
	if err := t.f.hit(StepEnqueue); err != nil {
		return err
	}
	return t.Tx.Enqueue(ctx, evt)
}

func (t *faultyTx) SetOrderStatus(ctx context.Context, orderID string, st domain.Status) error {
	if err := t.f.hit(StepSetOrderStatus); err != nil {
		return err
	}
	return t.Tx.SetOrderStatus(ctx, orderID, st)
}

func (t *faultyTx) SetSubOrderStatus(ctx context.Context, id string, st domain.Status) error {
	if err := t.f.hit(StepSetSubStatus); err != nil {
		return err
	}
	return t.Tx.SetSubOrderStatus(ctx, id, st)
}

func (t *faultyTx) SetAllSubOrderStatus(ctx context.Context, orderID string, st domain.Status) error {
	if err := t.f.hit(StepSetAllSubStatus); err != nil {
		return err
	}
	return t.Tx.SetAllSubOrderStatus(ctx, orderID, st)
}
