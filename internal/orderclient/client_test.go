package orderclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/app"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/httpapi"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/reconcile"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/store/memstore"
)

var (
	admin = domain.Principal{ID: "root", Role: domain.RoleAdmin}
	alice = domain.Principal{ID: "alice", Role: domain.RoleCustomer}
)

func newClient(t *testing.T) *Client {
	t.Helper()
	mem := memstore.New()
	svc := app.New(app.Deps{Store: mem, Catalog: mem, Policy: reconcile.Permissive})
	srv := httptest.NewServer(httpapi.NewRouter(svc, httpapi.Options{}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func TestRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertProduct(ctx, admin, domain.Product{ID: "A", Price: decimal.NewFromInt(10), Stock: 2, VendorID: "V1"}))

	key := uuid.NewString()
	placed, err := c.PlaceOrder(ctx, alice, []domain.CartItem{{ProductID: "A", Quantity: 1}}, key)
	require.NoError(t, err)
	require.NotNil(t, placed.Order)
	assert.False(t, placed.Replayed)

	again, err := c.PlaceOrder(ctx, alice, []domain.CartItem{{ProductID: "A", Quantity: 1}}, key)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	rec, err := c.GetOrder(ctx, alice, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, placed.Order.ID, rec.Order.ID)

	up, err := c.SetStatus(ctx, admin, placed.Order.ID, domain.StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, up.Order.Status)

	list, err := c.ListOrders(ctx, alice, domain.StatusShipped, "", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAPIError(t *testing.T) {
	c := newClient(t)

	_, err := c.PlaceOrder(context.Background(), alice, []domain.CartItem{{ProductID: "missing", Quantity: 1}}, "")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "PRODUCT_UNAVAILABLE", apiErr.ErrorResponse.Error)
	assert.Equal(t, []string{"missing"}, apiErr.ProductIDs)
}
