package domain

import "time"

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Order is a purchase derived from a hold; exactly one order per hold.
// pending_payment -> paid and pending_payment -> cancelled are both
// terminal; paid in particular is never undone by a later failure event.
type Order struct {
	ID               string
	HoldID           string
	Status           OrderStatus
	PaymentReference string
	CreatedAt        time.Time
}
