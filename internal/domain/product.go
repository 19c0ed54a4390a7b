package domain

import "time"

// Product is a sellable item with finite stock. The stock column is only
// ever decremented permanently on payment success; holds reserve against it
// without mutating it.
type Product struct {
	ID        string
	Name      string
	Price     float64
	Stock     int
	CreatedAt time.Time
}

// AvailableStock is total stock minus quantity reserved by active holds,
// never negative.
func AvailableStock(stock, activeHoldQty int) int {
	available := stock - activeHoldQty
	if available < 0 {
		return 0
	}
	return available
}
