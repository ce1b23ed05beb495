// Package notify turns order lifecycle events into customer and vendor
// notifications.
package notify

import (
	"fmt"

	"github.com/nazeru/tx-lab-marketplace-go/pkg/contracts"
)

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceVendor   Audience = "vendor"
)

type Notification struct {
	EventID   string   `json:"event_id"`
	OrderID   string   `json:"order_id"`
	Audience  Audience `json:"audience"`
	Recipient string   `json:"recipient"`
	Message   string   `json:"message"`
}

// Render maps one event to the notifications it produces. Unknown event
// types and events missing a recipient yield nothing.
func Render(evt contracts.Event) []Notification {
	customer := str(evt.Payload, "customer_id")
	out := []Notification{}
	add := func(aud Audience, to, format string, args ...any) {
		if to == "" {
			return
		}
		out = append(out, Notification{
			EventID:   evt.EventID,
			OrderID:   evt.OrderID,
			Audience:  aud,
			Recipient: to,
			Message:   fmt.Sprintf(format, args...),
		})
	}

	switch evt.Type {
	case contracts.EventOrderPlaced:
		add(AudienceCustomer, customer, "order %s placed, total %s", evt.OrderID, str(evt.Payload, "total_amount"))
		parts, _ := evt.Payload["sub_orders"].([]any)
		for _, p := range parts {
			so, ok := p.(map[string]any)
			if !ok {
				continue
			}
			add(AudienceVendor, str(so, "vendor_id"), "new sub-order %s for %s", str(so, "sub_order_id"), str(so, "amount"))
		}
	case contracts.EventOrderStatusChanged:
		add(AudienceCustomer, customer, "order %s is now %s", evt.OrderID, str(evt.Payload, "to"))
	case contracts.EventSubOrderStatusChanged:
		add(AudienceCustomer, customer, "items of order %s from %s are now %s",
			evt.OrderID, str(evt.Payload, "vendor_id"), str(evt.Payload, "to"))
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
