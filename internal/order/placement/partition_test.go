package placement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
)

func line(id, vendor string, price, qty int64) domain.LineItem {
	return domain.LineItem{ProductID: id, VendorID: vendor, Price: decimal.NewFromInt(price), Quantity: qty}
}

func TestPartitionByVendor_groupsAndSums(t *testing.T) {
	groups := partitionByVendor([]domain.LineItem{
		line("a", "v1", 10, 2),
		line("b", "v2", 20, 1),
		line("c", "v1", 5, 3),
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "v1", groups[0].VendorID)
	assert.Len(t, groups[0].Items, 2)
	assert.Equal(t, "35", groups[0].Amount.String())
	assert.Equal(t, "v2", groups[1].VendorID)
	assert.Equal(t, "20", groups[1].Amount.String())
	assert.Equal(t, "55", totalOf(groups).String())
}

func TestPartitionByVendor_fractionalPrices(t *testing.T) {
	li := domain.LineItem{ProductID: "a", VendorID: "v1", Price: decimal.RequireFromString("0.10"), Quantity: 3}

	groups := partitionByVendor([]domain.LineItem{li})

	assert.True(t, groups[0].Amount.Equal(decimal.RequireFromString("0.30")))
}

func TestPartitionByVendor_empty(t *testing.T) {
	assert.Empty(t, partitionByVendor(nil))
	assert.True(t, totalOf(nil).IsZero())
}
