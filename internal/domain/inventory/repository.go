package inventory

import (
	"context"
)

// Catalog reads product snapshots.
type Catalog interface {
	Get(ctx context.Context, productID string) (*Product, error)
}

// Ledger applies stock adjustments. A batch is all-or-nothing: if any decrement
// would take stock below zero nothing is applied and ErrStockRace is returned.
type Ledger interface {
	Apply(ctx context.Context, adjustments []Adjustment) error
}
