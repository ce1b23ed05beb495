package reconcile

import (
	"fmt"

	"github.com/nazeru/tx-lab-marketplace-go/internal/order/domain"
)

// Policy decides which status writes are accepted.
type Policy int

const (
	// Permissive accepts any status from an authorized caller.
	Permissive Policy = iota
	// Forward only moves along pending, processing, shipped, delivered
	// (skipping ahead is fine), allows cancelled from any non-terminal
	// status, and accepts rewriting the current status.
	Forward
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "permissive":
		return Permissive, nil
	case "forward":
		return Forward, nil
	}
	return Permissive, fmt.Errorf("unknown status policy %q", s)
}

func (p Policy) String() string {
	if p == Forward {
		return "forward"
	}
	return "permissive"
}

var rank = map[domain.Status]int{
	domain.StatusPending:    0,
	domain.StatusProcessing: 1,
	domain.StatusShipped:    2,
	domain.StatusDelivered:  3,
}

func (p Policy) check(from, to domain.Status) error {
	if p == Permissive || from == to {
		return nil
	}
	if from.Terminal() {
		return domain.InvalidInputf("status %s is terminal, cannot move to %s", from, to)
	}
	if to == domain.StatusCancelled || rank[to] > rank[from] {
		return nil
	}
	return domain.InvalidInputf("status cannot move back from %s to %s", from, to)
}
