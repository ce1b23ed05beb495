package app

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/lookup"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/memstore"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/storetest"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/metrics"
)

var (
	customer = domain.Principal{ID: "alice", Role: domain.RoleCustomer}
	admin    = domain.Principal{ID: "root", Role: domain.RoleAdmin}
)

type harness struct {
	svc   *Service
	mem   *memstore.Store
	m     *metrics.OrderMetrics
	spans *tracetest.SpanRecorder
	logs  *observer.ObservedLogs
}

func seeded() *memstore.Store {
	s := memstore.New()
	s.PutProduct(domain.Product{ID: "A", Price: decimal.NewFromInt(10), Stock: 3, VendorID: "V1"})
	s.PutProduct(domain.Product{ID: "B", Price: decimal.NewFromInt(20), Stock: 1, VendorID: "V2"})
	return s
}

// newHarness wires a Service over mem, optionally through a wrapping store.
func newHarness(t *testing.T, mem *memstore.Store, st store.Store) *harness {
	t.Helper()
	if st == nil {
		st = mem
	}
	core, logs := observer.New(zapcore.DebugLevel)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	m := metrics.NewOrderMetrics(prometheus.NewRegistry())

	svc := New(Deps{
		Store:   st,
		Catalog: mem,
		Policy:  reconcile.Permissive,
		Logger:  zap.New(core),
		Metrics: m,
		Tracer:  tp,
	})
	return &harness{svc: svc, mem: mem, m: m, spans: rec, logs: logs}
}

func (h *harness) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range h.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %s not recorded", name)
	return nil
}

func TestPlaceOrder_recordsMetricsSpanAndLog(t *testing.T) {
	h := newHarness(t, seeded(), nil)

	res, err := h.svc.PlaceOrder(context.Background(), customer, []domain.CartItem{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 1},
	}, "")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Placed))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.m.ReservedUnits))

	sp := h.span(t, "order.place")
	assert.NotEqual(t, codes.Error, sp.Status().Code)

	entries := h.logs.FilterMessage("order placed").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, res.Order.ID, ctx["order_id"])
	assert.Equal(t, "40.00", ctx["total_amount"])
}

func TestPlaceOrder_replayIsNotCountedTwice(t *testing.T) {
	h := newHarness(t, seeded(), nil)
	cart := []domain.CartItem{{ProductID: "A", Quantity: 1}}

	first, err := h.svc.PlaceOrder(context.Background(), customer, cart, "key-1")
	require.NoError(t, err)
	second, err := h.svc.PlaceOrder(context.Background(), customer, cart, "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.Placed))
}

func TestPlaceOrder_rejectionCountedByKind(t *testing.T) {
	h := newHarness(t, seeded(), nil)

	_, err := h.svc.PlaceOrder(context.Background(), customer, []domain.CartItem{{ProductID: "B", Quantity: 5}}, "")

	require.True(t, errors.Is(err, domain.ErrInsufficientStock))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.PlacementFailures.WithLabelValues("INSUFFICIENT_STOCK")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.m.Placed))
	assert.Equal(t, 1, h.logs.FilterMessage("place order rejected").Len())
	assert.NotEqual(t, codes.Error, h.span(t, "order.place").Status().Code)
}

func TestPlaceOrder_internalFailureMarksSpan(t *testing.T) {
	mem := seeded()
	boom := errors.New("disk on fire")
	h := newHarness(t, mem, &storetest.Faulty{Inner: mem, Step: storetest.StepInsertOrder, Err: boom})

	_, err := h.svc.PlaceOrder(context.Background(), customer, []domain.CartItem{{ProductID: "A", Quantity: 1}}, "")

	require.ErrorIs(t, err, boom)
	assert.Equal(t, codes.Error, h.span(t, "order.place").Status().Code)
	assert.Equal(t, 1, h.logs.FilterMessage("place order failed").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.PlacementFailures.WithLabelValues("INTERNAL")))
}

func TestSetStatus_countsTargetAndOutcome(t *testing.T) {
	h := newHarness(t, seeded(), nil)
	res, err := h.svc.PlaceOrder(context.Background(), customer, []domain.CartItem{{ProductID: "A", Quantity: 1}}, "")
	require.NoError(t, err)

	_, err = h.svc.SetStatus(context.Background(), res.Order.SubOrderIDs[0], domain.StatusShipped, domain.Principal{ID: "V1", Role: domain.RoleVendor})
	require.NoError(t, err)
	_, err = h.svc.SetStatus(context.Background(), res.Order.ID, domain.StatusDelivered, admin)
	require.NoError(t, err)
	_, err = h.svc.SetStatus(context.Background(), res.Order.ID, domain.StatusDelivered, customer)
	require.True(t, errors.Is(err, domain.ErrForbidden))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.StatusUpdates.WithLabelValues("sub_order", "parent_changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.StatusUpdates.WithLabelValues("order", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.StatusUpdates.WithLabelValues("unresolved", "forbidden")))
}

func TestFindAndList_passThroughScope(t *testing.T) {
	h := newHarness(t, seeded(), nil)
	res, err := h.svc.PlaceOrder(context.Background(), customer, []domain.CartItem{{ProductID: "A", Quantity: 1}}, "")
	require.NoError(t, err)

	rec, err := h.svc.FindAccessible(context.Background(), res.Order.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, rec.Order.ID)

	_, err = h.svc.FindAccessible(context.Background(), res.Order.ID, domain.Principal{ID: "mallory", Role: domain.RoleCustomer})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	recs, err := h.svc.ListAccessible(context.Background(), lookup.Filter{}, admin)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	h.span(t, "order.find")
	h.span(t, "order.list")
}

func TestUpsertProduct(t *testing.T) {
	h := newHarness(t, seeded(), nil)
	p := domain.Product{ID: "C", Price: decimal.RequireFromString("9.99"), Stock: 7, VendorID: "V3"}

	err := h.svc.UpsertProduct(context.Background(), customer, p)
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	err = h.svc.UpsertProduct(context.Background(), admin, domain.Product{ID: "C", VendorID: "V3", Stock: -1})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	require.NoError(t, h.svc.UpsertProduct(context.Background(), admin, p))
	got, ok := h.mem.Product("C")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Stock)
}
