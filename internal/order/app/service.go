// Package app is the order service facade: the four order operations plus
// catalog seeding, each wrapped with a span, one completion log line and
// domain metrics.
package app

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-marketplace-go/internal/inventory"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/lookup"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/placement"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/logging"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/metrics"
)

const tracerName = "github.com/nazeru/tx-lab-marketplace-go/internal/order/app"

// Catalog seeds products. The catalog itself is owned elsewhere; this is
// the admin path used by tooling.
type Catalog interface {
	UpsertProduct(ctx context.Context, p domain.Product) error
}

type Deps struct {
	Store   store.Store
	Catalog Catalog
	Policy  reconcile.Policy
	Logger  *zap.Logger
	Metrics *metrics.OrderMetrics
	// Tracer defaults to the global provider.
	Tracer trace.TracerProvider
}

type Service struct {
	place   *placement.Orchestrator
	finder  *lookup.Finder
	recon   *reconcile.Engine
	catalog Catalog
	log     *zap.Logger
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
}

func New(d Deps) *Service {
	tp := d.Tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		place:   placement.New(d.Store, inventory.NewLedger()),
		finder:  lookup.New(d.Store),
		recon:   reconcile.New(d.Store, d.Policy),
		catalog: d.Catalog,
		log:     logger,
		metrics: d.Metrics,
		tracer:  tp.Tracer(tracerName),
	}
}

func (s *Service) PlaceOrder(ctx context.Context, p domain.Principal, items []domain.CartItem, idempotencyKey string) (placement.Result, error) {
	ctx, span := s.start(ctx, "order.place", p,
		attribute.Int("order.cart_lines", len(items)),
		attribute.Bool("order.idempotent", idempotencyKey != ""),
	)
	defer span.End()
	began := time.Now()

	res, err := s.place.PlaceOrder(ctx, placement.Request{Customer: p, Items: items, IdempotencyKey: idempotencyKey})
	if err != nil {
		s.fail(span, err, "place order", logging.Fields{Step: "place", DurationMS: since(began)})
		if s.metrics != nil {
			s.metrics.PlacementFailures.WithLabelValues(domain.KindOf(err).String()).Inc()
		}
		return placement.Result{}, err
	}

	span.SetAttributes(
		attribute.String("order.id", res.Order.ID),
		attribute.Int("order.sub_orders", len(res.Order.SubOrderIDs)),
		attribute.Bool("order.replayed", res.Replayed),
	)
	if s.metrics != nil && !res.Replayed {
		s.metrics.Placed.Inc()
		var units int64
		for _, li := range res.Order.Items {
			units += li.Quantity
		}
		s.metrics.ReservedUnits.Add(float64(units))
	}
	status := "placed"
	if res.Replayed {
		status = "replayed"
	}
	s.log.Info("order placed", append(logging.Fields{
		OrderID:    res.Order.ID,
		Step:       "place",
		Status:     status,
		DurationMS: since(began),
	}.Zap(),
		zap.String("customer_id", p.ID),
		zap.String("total_amount", res.Order.TotalAmount.StringFixed(2)),
		zap.Int("sub_orders", len(res.Order.SubOrderIDs)),
	)...)
	return res, nil
}

func (s *Service) FindAccessible(ctx context.Context, id string, p domain.Principal) (domain.Record, error) {
	ctx, span := s.start(ctx, "order.find", p, attribute.String("order.lookup_id", id))
	defer span.End()
	began := time.Now()

	rec, err := s.finder.FindAccessible(ctx, id, p)
	if err != nil {
		s.fail(span, err, "find order", logging.Fields{OrderID: id, Step: "find", DurationMS: since(began)})
		return domain.Record{}, err
	}
	s.log.Debug("order found", logging.Fields{OrderID: id, Step: "find", DurationMS: since(began)}.Zap()...)
	return rec, nil
}

func (s *Service) ListAccessible(ctx context.Context, f lookup.Filter, p domain.Principal) ([]domain.Record, error) {
	ctx, span := s.start(ctx, "order.list", p,
		attribute.String("order.filter.status", string(f.Status)),
		attribute.String("order.filter.vendor_id", f.VendorID),
	)
	defer span.End()
	began := time.Now()

	recs, err := s.finder.ListAccessible(ctx, f, p)
	if err != nil {
		s.fail(span, err, "list orders", logging.Fields{Step: "list", DurationMS: since(began)})
		return nil, err
	}
	span.SetAttributes(attribute.Int("order.results", len(recs)))
	s.log.Debug("orders listed", append(logging.Fields{Step: "list", DurationMS: since(began)}.Zap(), zap.Int("results", len(recs)))...)
	return recs, nil
}

func (s *Service) SetStatus(ctx context.Context, id string, st domain.Status, p domain.Principal) (reconcile.Update, error) {
	ctx, span := s.start(ctx, "order.set_status", p,
		attribute.String("order.target_id", id),
		attribute.String("order.status", string(st)),
	)
	defer span.End()
	began := time.Now()

	up, err := s.recon.SetStatus(ctx, id, st, p)
	if err != nil {
		s.fail(span, err, "set status", logging.Fields{OrderID: id, Step: "set_status", Status: string(st), DurationMS: since(began)})
		s.countStatus("unresolved", strings.ToLower(domain.KindOf(err).String()))
		return reconcile.Update{}, err
	}

	target, orderID, subID := "order", id, ""
	if up.Record.SubOrder != nil {
		target, orderID, subID = "sub_order", up.Record.SubOrder.OrderID, up.Record.SubOrder.ID
	}
	outcome := "applied"
	if up.ParentChanged && target == "sub_order" {
		outcome = "parent_changed"
	}
	s.countStatus(target, outcome)
	span.SetAttributes(
		attribute.String("order.target", target),
		attribute.Bool("order.parent_changed", up.ParentChanged),
	)
	s.log.Info("status updated", append(logging.Fields{
		OrderID:    orderID,
		SubOrderID: subID,
		Step:       "set_status",
		Status:     string(st),
		DurationMS: since(began),
	}.Zap(),
		zap.String("parent_status", string(up.ParentStatus)),
		zap.Bool("parent_changed", up.ParentChanged),
	)...)
	return up, nil
}

// UpsertProduct lets an admin seed the catalog.
func (s *Service) UpsertProduct(ctx context.Context, p domain.Principal, prod domain.Product) error {
	if !p.IsAdmin() {
		return domain.Forbiddenf("only admins can change the catalog")
	}
	if s.catalog == nil {
		return domain.Forbiddenf("catalog is read-only in this deployment")
	}
	prod.ID = strings.TrimSpace(prod.ID)
	switch {
	case prod.ID == "":
		return domain.InvalidInputf("product id is required")
	case strings.TrimSpace(prod.VendorID) == "":
		return domain.InvalidInputf("vendor_id is required")
	case prod.Price.IsNegative():
		return domain.InvalidInputf("price must not be negative")
	case prod.Stock < 0:
		return domain.InvalidInputf("stock must not be negative")
	}
	if err := s.catalog.UpsertProduct(ctx, prod); err != nil {
		s.log.Error("upsert product failed", zap.String("product_id", prod.ID), zap.Error(err))
		return domain.Internal("upsert product", err)
	}
	s.log.Info("product upserted", zap.String("product_id", prod.ID), zap.Int64("stock", prod.Stock))
	return nil
}

func (s *Service) start(ctx context.Context, name string, p domain.Principal, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("principal.id", p.ID),
		attribute.String("principal.role", string(p.Role)),
	)
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// fail records err on the span and logs it: internal failures at error
// level with the cause, rejections at info.
func (s *Service) fail(span trace.Span, err error, msg string, f logging.Fields) {
	kind := domain.KindOf(err)
	span.SetAttributes(attribute.String("error.kind", kind.String()))
	if kind == domain.KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		s.log.Error(msg+" failed", append(f.Zap(), zap.Error(err))...)
		return
	}
	s.log.Info(msg+" rejected", append(f.Zap(), zap.String("kind", kind.String()), zap.String("reason", err.Error()))...)
}

func (s *Service) countStatus(target, outcome string) {
	if s.metrics != nil {
		s.metrics.StatusUpdates.WithLabelValues(target, outcome).Inc()
	}
}

func since(t time.Time) int64 { return time.Since(t).Milliseconds() }
