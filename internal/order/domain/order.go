package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var statuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", InvalidInputf("unknown status %q", s)
}

// Terminal reports whether no further transition is expected from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// LineItem is captured at placement time and never changes afterwards,
// even if the catalog entry it came from does.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	VendorID  string          `json:"vendor_id"`
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(li.Quantity))
}

type Order struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	Items       []LineItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	SubOrderIDs []string        `json:"sub_order_ids"`
	// SubOrders is only populated on results returned to callers.
	SubOrders []SubOrder `json:"sub_orders,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SubOrder struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	VendorID string          `json:"vendor_id"`
	Items    []LineItem      `json:"items"`
	Amount   decimal.Decimal `json:"amount"`
	Status   Status          `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SumAmounts adds up the amounts of subs.
func SumAmounts(subs []SubOrder) decimal.Decimal {
	total := decimal.Zero
	for _, so := range subs {
		total = total.Add(so.Amount)
	}
	return total
}

// Record holds exactly one of Order (with SubOrders populated) or SubOrder.
type Record struct {
	Order    *Order    `json:"order,omitempty"`
	SubOrder *SubOrder `json:"sub_order,omitempty"`
}
