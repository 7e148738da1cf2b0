package trading

import (
	"context"
	"errors"

	"PerpExchange/internal/storage/postgres"
)

// Pending-request lifecycle, per oracle request id.
const (
	StatusNone     = "NONE"
	StatusPending  = "PENDING"
	StatusConsumed = "CONSUMED"
)

// ValidTransitions defines the allowed moves of one request id. A submit
// parks a record (NONE → PENDING); the external callback consumes it
// (PENDING → CONSUMED); a timeout unwind deletes it (PENDING → NONE,
// market requests only). PENDING → PENDING does not exist: resubmission
// while in flight is rejected at intake.
var ValidTransitions = map[string][]string{
	StatusNone:     {StatusPending},
	StatusPending:  {StatusConsumed, StatusNone},
	StatusConsumed: {},
}

// CanTransition reports whether a request id may move between two states.
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s string) bool {
	return len(ValidTransitions[s]) == 0
}

// RequestStatus reports the current state of a market request id. A missing
// record means either never submitted or already consumed; both read as NONE
// from the outside, which is exactly the single-consumption guarantee.
func (t *Trading) RequestStatus(ctx context.Context, orderID uint64) (string, error) {
	_, err := t.ledger.GetPendingMarketOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, postgres.ErrPendingOrderNotExists) {
			return StatusNone, nil
		}
		return "", err
	}
	return StatusPending, nil
}
