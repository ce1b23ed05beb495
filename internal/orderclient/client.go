// Package orderclient is a small HTTP client for the order service used by
// the CLI and the bench runner.
package orderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
	"github.com/nazeru/tx-lab-marketplace-go/internal/order/httpapi"
	"github.com/nazeru/tx-lab-marketplace-go/pkg/idempotency"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status int
	httpapi.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.ErrorResponse.Error, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

func (c *Client) PlaceOrder(ctx context.Context, as domain.Principal, items []domain.CartItem, idemKey string) (httpapi.PlaceOrderResponse, error) {
	var out httpapi.PlaceOrderResponse
	hdr := map[string]string{}
	if idemKey != "" {
		hdr[idempotency.Header] = idemKey
	}
	err := c.do(ctx, http.MethodPost, "/orders", as, httpapi.PlaceOrderRequest{Items: items}, hdr, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, as domain.Principal, id string) (domain.Record, error) {
	var out domain.Record
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), as, nil, nil, &out)
	return out, err
}

func (c *Client) ListOrders(ctx context.Context, as domain.Principal, status domain.Status, vendorID string, limit int) ([]domain.Record, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if vendorID != "" {
		q.Set("vendor_id", vendorID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out httpapi.ListResponse
	err := c.do(ctx, http.MethodGet, path, as, nil, nil, &out)
	return out.Results, err
}

func (c *Client) SetStatus(ctx context.Context, as domain.Principal, id string, st domain.Status) (httpapi.SetStatusResponse, error) {
	var out httpapi.SetStatusResponse
	err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(id)+"/status", as, httpapi.SetStatusRequest{Status: string(st)}, nil, &out)
	return out, err
}

func (c *Client) UpsertProduct(ctx context.Context, as domain.Principal, p domain.Product) error {
	body := httpapi.ProductRequest{Name: p.Name, Price: p.Price, Stock: p.Stock, VendorID: p.VendorID, Category: p.Category}
	return c.do(ctx, http.MethodPut, "/products/"+url.PathEscape(p.ID), as, body, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, as domain.Principal, body any, headers map[string]string, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(httpapi.HeaderPrincipalID, as.ID)
	req.Header.Set(httpapi.HeaderPrincipalRole, string(as.Role))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr.ErrorResponse) != nil {
			apiErr.ErrorResponse.Error = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
