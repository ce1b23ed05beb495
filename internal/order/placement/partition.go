package placement

import (
	"github.com/shopspring/decimal"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
)

// vendorGroup owns the line items of one vendor for a single placement.
type vendorGroup struct {
	VendorID string
	Items    []domain.LineItem
	Amount   decimal.Decimal
}

// partitionByVendor groups lines by vendor. Groups appear in the order
// their vendor is first seen and items keep their cart order.
func partitionByVendor(lines []domain.LineItem) []vendorGroup {
	index := make(map[string]int)
	var groups []vendorGroup
	for _, li := range lines {
		i, ok := index[li.VendorID]
		if !ok {
			i = len(groups)
			index[li.VendorID] = i
			groups = append(groups, vendorGroup{VendorID: li.VendorID, Amount: decimal.Zero})
		}
		groups[i].Items = append(groups[i].Items, li)
		groups[i].Amount = groups[i].Amount.Add(li.Subtotal())
	}
	return groups
}

func totalOf(groups []vendorGroup) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Amount)
	}
	return total
}
