package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/app"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/memstore"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/idempotency"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/metrics"
)

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	mem *memstore.Store
	sm  *metrics.ServerMetrics
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	mem := memstore.New()
	mem.PutProduct(domain.Product{ID: "A", Price: decimal.NewFromInt(10), Stock: 3, VendorID: "V1"})
	mem.PutProduct(domain.Product{ID: "B", Price: decimal.NewFromInt(20), Stock: 1, VendorID: "V2"})

	reg := prometheus.NewRegistry()
	sm := metrics.NewServerMetrics(reg, "order_service")
	svc := app.New(app.Deps{Store: mem, Catalog: mem, Policy: reconcile.Permissive})
	srv := httptest.NewServer(NewRouter(svc, Options{Metrics: sm, MetricsHandler: metrics.Handler(reg)}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, mem: mem, sm: sm}
}

func (s *testServer) do(method, path, who, role string, body any, headers ...string) (*http.Response, map[string]any) {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(s.t, err)
	if who != "" {
		req.Header.Set(HeaderPrincipalID, who)
		req.Header.Set(HeaderPrincipalRole, role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func cart(items ...any) map[string]any {
	var lines []map[string]any
	for i := 0; i+1 < len(items); i += 2 {
		lines = append(lines, map[string]any{"product_id": items[i], "quantity": items[i+1]})
	}
	return map[string]any{"items": lines}
}

func TestPlaceOrder_createdWithSubOrders(t *testing.T) {
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/orders", "alice", "customer", cart("A", 2, "B", 1))

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "40", order["total_amount"])
	assert.Equal(t, "pending", order["status"])
	assert.Len(t, order["sub_orders"], 2)
	assert.Equal(t, false, body["replayed"])
}

func TestPlaceOrder_errorMapping(t *testing.T) {
	tests := []struct {
		name string
		who  string
		role string
		body any
		code int
		kind string
	}{
		{"unavailable", "alice", "customer", cart("A", 1, "X", 1), http.StatusUnprocessableEntity, "PRODUCT_UNAVAILABLE"},
		{"insufficient", "alice", "customer", cart("B", 2), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"empty cart", "alice", "customer", cart(), http.StatusBadRequest, "INVALID_INPUT"},
		{"vendor cannot buy", "V1", "vendor", cart("A", 1), http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			resp, body := s.do(http.MethodPost, "/orders", tt.who, tt.role, tt.body)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.kind, body["error"])
		})
	}
}

func TestPlaceOrder_insufficientStockCarriesCounts(t *testing.T) {
	s := newServer(t)

	_, body := s.do(http.MethodPost, "/orders", "alice", "customer", cart("B", 2))

	assert.Equal(t, []any{"B"}, body["product_ids"])
	assert.Equal(t, float64(1), body["available"])
	assert.Equal(t, float64(2), body["requested"])
}

func TestPlaceOrder_missingPrincipal(t *testing.T) {
	s := newServer(t)

	resp, body := s.do(http.MethodPost, "/orders", "", "", cart("A", 1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", body["error"])

	resp, _ = s.do(http.MethodPost, "/orders", "alice", "superuser", cart("A", 1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPlaceOrder_idempotencyKeyReplays(t *testing.T) {
	s := newServer(t)

	first, b1 := s.do(http.MethodPost, "/orders", "alice", "customer", cart("A", 1), idempotency.Header, "k-1")
	second, b2 := s.do(http.MethodPost, "/orders", "alice", "customer", cart("A", 1), idempotency.Header, "k-1")

	assert.Equal(t, http.StatusCreated, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, true, b2["replayed"])
	assert.Equal(t, b1["order"].(map[string]any)["id"], b2["order"].(map[string]any)["id"])
	p, _ := s.mem.Product("A")
	assert.Equal(t, int64(2), p.Stock)
}

func TestGetOrder_scopes(t *testing.T) {
	s := newServer(t)
	_, placed := s.do(http.MethodPost, "/orders", "alice", "customer", cart("A", 1, "B", 1))
	id := placed["order"].(map[string]any)["id"].(string)

	resp, body := s.do(http.MethodGet, "/orders/"+id, "V2", "vendor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "V2", body["sub_order"].(map[string]any)["vendor_id"])
	assert.Nil(t, body["order"])

	resp, _ = s.do(http.MethodGet, "/orders/"+id, "bob", "customer", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/orders/nope", "root", "admin", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListOrders(t *testing.T) {
	s := newServer(t)
	s.do(http.MethodPost, "/orders", "alice", "customer", cart("A", 1))
	s.do(http.MethodPost, "/orders", "alice", "customer", cart("B", 1))

	resp, body := s.do(http.MethodGet, "/orders?vendor_id=V2", "root", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["results"], 1)

	resp, body = s.do(http.MethodGet, "/orders", "V1", "vendor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0].(map[string]any)["sub_order"])

	resp, body = s.do(http.MethodGet, "/orders?status=shipped", "alice", "customer", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["results"])

	resp, _ = s.do(http.MethodGet, "/orders?status=lost", "alice", "customer", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/orders?limit=-2", "alice", "customer", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetStatus_reconcilesParent(t *testing.T) {
	s := newServer(t)
	_, placed := s.do(http.MethodPost, "/orders", "alice", "customer", cart("A", 1, "B", 1))
	order := placed["order"].(map[string]any)
	subIDs := order["sub_order_ids"].([]any)

	resp, body := s.do(http.MethodPut, "/orders/"+subIDs[0].(string)+"/status", "V1", "vendor", map[string]string{"status": "shipped"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["parent_changed"])

	resp, _ = s.do(http.MethodPut, "/orders/"+subIDs[1].(string)+"/status", "V1", "vendor", map[string]string{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = s.do(http.MethodPut, "/orders/"+subIDs[1].(string)+"/status", "V2", "vendor", map[string]string{"status": "shipped"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["parent_changed"])
	assert.Equal(t, "shipped", body["parent_status"])

	resp, _ = s.do(http.MethodPut, "/orders/"+order["id"].(string)+"/status", "root", "admin", map[string]string{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpsertProduct_adminOnly(t *testing.T) {
	s := newServer(t)
	body := map[string]any{"name": "Lamp", "price": "12.50", "stock": 4, "vendor_id": "V3"}

	resp, _ := s.do(http.MethodPut, "/products/L", "alice", "customer", body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(http.MethodPut, "/products/L", "root", "admin", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p, ok := s.mem.Product("L")
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("12.5").Equal(p.Price))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	resp, body := s.do(http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	s.do(http.MethodGet, "/orders", "alice", "customer", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.sm.Requests.WithLabelValues("GET /orders", "200")))

	resp, _ = s.do(http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWriteDomainErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()

	writeDomainError(rec, domain.Internal("insert order", errors.New("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(domain.KindConflictOnCommit))
	assert.Equal(t, http.StatusConflict, statusFor(domain.KindInsufficientStock))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.KindProductUnavailable))
}
