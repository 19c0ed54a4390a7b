package domain

import "time"

type HoldStatus string

const (
	HoldStatusActive  HoldStatus = "active"
	HoldStatusUsed    HoldStatus = "used"
	HoldStatusExpired HoldStatus = "expired"
)

// Hold is a time-boxed reservation of product stock. Transitions are
// active -> used (order created), active -> expired (timeout or payment
// failure) and used -> expired (payment failure). Nothing re-activates a
// hold.
type Hold struct {
	ID        string
	ProductID string
	Qty       int
	Status    HoldStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the hold can no longer back an order at t.
func (h Hold) Expired(t time.Time) bool {
	return h.Status == HoldStatusExpired || !h.ExpiresAt.After(t)
}
