package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidID           = errors.New("invalid id")
	ErrDuplicateEvent      = errors.New("duplicate payment event")
	ErrTransientConflict   = errors.New("transient storage conflict")
	ErrProductNameRequired = errors.New("product name required")
	ErrInvalidStock        = errors.New("invalid stock")
)

// ErrInsufficientStock and ErrInvalidHold are matching targets for
// errors.Is; the concrete error types below carry the user-facing detail.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidHold       = errors.New("invalid hold")
)

// InsufficientStockError rejects a hold request that exceeds current
// availability. Non-retryable.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InvalidHoldError rejects order creation from a hold that is missing,
// expired or already consumed. Non-retryable.
type InvalidHoldError struct {
	Reason string
}

func (e *InvalidHoldError) Error() string {
	return "invalid hold: " + e.Reason
}

func (e *InvalidHoldError) Is(target error) bool {
	return target == ErrInvalidHold
}
