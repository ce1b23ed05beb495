// Package httpapi exposes the order service over HTTP with chi.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/lookup"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/placement"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/idempotency"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/metrics"
)

// Orders is the service surface the handlers call.
type Orders interface {
	PlaceOrder(ctx context.Context, p domain.Principal, items []domain.CartItem, idempotencyKey string) (placement.Result, error)
	FindAccessible(ctx context.Context, id string, p domain.Principal) (domain.Record, error)
	ListAccessible(ctx context.Context, f lookup.Filter, p domain.Principal) ([]domain.Record, error)
	SetStatus(ctx context.Context, id string, st domain.Status, p domain.Principal) (reconcile.Update, error)
	UpsertProduct(ctx context.Context, p domain.Principal, prod domain.Product) error
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.ServerMetrics
	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
	Timeout        time.Duration
}

type Handler struct {
	orders Orders
	log    *zap.Logger
}

func NewRouter(orders Orders, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{orders: orders, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(logger, opts.Metrics))

	r.Get("/health", h.Health)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if opts.Timeout > 0 {
			r.Use(middleware.Timeout(opts.Timeout))
		}
		r.Use(withPrincipal)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Put("/orders/{id}/status", h.SetStatus)
		r.Put("/products/{id}", h.UpsertProduct)
	})
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type PlaceOrderRequest struct {
	Items []domain.CartItem `json:"items"`
}

type PlaceOrderResponse struct {
	Order    *domain.Order `json:"order"`
	Replayed bool          `json:"replayed"`
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.String(), "invalid json")
		return
	}

	key, err := idempotency.Key(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.String(), err.Error())
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), principalFrom(r.Context()), req.Items, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, PlaceOrderResponse{Order: res.Order, Replayed: res.Replayed})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orders.FindAccessible(r.Context(), chi.URLParam(r, "id"), principalFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type ListResponse struct {
	Results []domain.Record `json:"results"`
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := lookup.Filter{VendorID: strings.TrimSpace(q.Get("vendor_id"))}
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st, err := domain.ParseStatus(s)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		f.Status = st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, domain.KindInvalidInput.String(), "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	recs, err := h.orders.ListAccessible(r.Context(), f, principalFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Results: recs})
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type SetStatusResponse struct {
	domain.Record
	ParentStatus  domain.Status `json:"parent_status"`
	ParentChanged bool          `json:"parent_changed"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.String(), "invalid json")
		return
	}
	st, err := domain.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	up, err := h.orders.SetStatus(r.Context(), chi.URLParam(r, "id"), st, principalFrom(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetStatusResponse{Record: up.Record, ParentStatus: up.ParentStatus, ParentChanged: up.ParentChanged})
}

type ProductRequest struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int64           `json:"stock"`
	VendorID string          `json:"vendor_id"`
	Category string          `json:"category"`
}

func (h *Handler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput.String(), "invalid json")
		return
	}
	prod := domain.Product{
		ID:       chi.URLParam(r, "id"),
		Name:     req.Name,
		Price:    req.Price,
		Stock:    req.Stock,
		VendorID: req.VendorID,
		Category: req.Category,
	}
	if err := h.orders.UpsertProduct(r.Context(), principalFrom(r.Context()), prod); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prod)
}
