package domain

import "time"

type PaymentEventStatus string

// Every stored event is "processed": a redelivered key never writes a row,
// it is answered from the one already stored.
const PaymentEventProcessed PaymentEventStatus = "processed"

// PaymentOutcome values accepted from the payment provider.
const (
	PaymentOutcomeSuccess = "success"
	PaymentOutcomeFailure = "failure"
)

// PaymentEvent is one row of the idempotency log, the single source of
// truth for "has this event been seen". OrderID is kept even when no such
// order exists yet so the event can be replayed once the order is created.
type PaymentEvent struct {
	ID             string
	IdempotencyKey string
	OrderID        string
	Payload        []byte
	Status         PaymentEventStatus
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}
