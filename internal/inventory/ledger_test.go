package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/memstore"
)

func seed(stock int64) *memstore.Store {
	s := memstore.New()
	s.PutProduct(domain.Product{ID: "sku-1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: stock, VendorID: "v1"})
	return s
}

func TestReserve_decrementsWhenEnoughStock(t *testing.T) {
	s := seed(5)
	l := NewLedger()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return l.Reserve(ctx, tx, "sku-1", 2)
	})

	require.NoError(t, err)
	p, _ := s.Product("sku-1")
	assert.Equal(t, int64(3), p.Stock)
}

func TestReserve_insufficientStockLeavesCounter(t *testing.T) {
	s := seed(1)
	l := NewLedger()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return l.Reserve(ctx, tx, "sku-1", 2)
	})

	require.Error(t, err)
	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.KindInsufficientStock, de.Kind)
	assert.Equal(t, int64(1), de.Available)
	assert.Equal(t, int64(2), de.Requested)
	p, _ := s.Product("sku-1")
	assert.Equal(t, int64(1), p.Stock)
}

func TestReserve_unknownProduct(t *testing.T) {
	s := seed(1)
	l := NewLedger()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return l.Reserve(ctx, tx, "nope", 1)
	})

	assert.True(t, errors.Is(err, domain.ErrProductUnavailable))
}

func TestReserve_rejectsNonPositiveQuantity(t *testing.T) {
	s := seed(1)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return NewLedger().Reserve(ctx, tx, "sku-1", 0)
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestReserve_undoneWithUnitOfWork(t *testing.T) {
	s := seed(5)
	l := NewLedger()
	boom := errors.New("later step failed")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := l.Reserve(ctx, tx, "sku-1", 4); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	p, _ := s.Product("sku-1")
	assert.Equal(t, int64(5), p.Stock)
}

func TestReserve_concurrentCallersNeverOversell(t *testing.T) {
	const stock, callers = 7, 50
	s := seed(stock)
	l := NewLedger()

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				return l.Reserve(ctx, tx, "sku-1", 1)
			})
			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(stock), ok.Load())
	p, _ := s.Product("sku-1")
	assert.Equal(t, int64(0), p.Stock)
}

func TestSnapshot_skipsMissingAndEmpty(t *testing.T) {
	s := seed(3)
	s.PutProduct(domain.Product{ID: "sku-2", Stock: 0, VendorID: "v2"})

	var snap map[string]domain.Product
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		snap, err = NewLedger().Snapshot(ctx, tx, []string{"sku-1", "sku-2", "sku-3"})
		return err
	})

	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "sku-1")
}
