package domain

import "github.com/shopspring/decimal"

// Product is the catalog snapshot the placement path reads. Stock is
// only ever changed through the inventory ledger.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int64           `json:"stock"`
	VendorID string          `json:"vendor_id"`
	Category string          `json:"category"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}
