package order

import "context"

// Repository persists orders. Create and Save commit the Change's stock
// adjustments in the same atomic unit as the order itself.
type Repository interface {
	// Create inserts a new order. ErrDuplicateNumber when the number is taken,
	// inventory.ErrStockRace when a reservation cannot be honoured.
	Create(ctx context.Context, ch Change) (*Order, error)
	// Save replaces the stored order if its version still equals ch.Order.Version,
	// otherwise ErrConflict. The returned order carries the bumped version.
	Save(ctx context.Context, ch Change) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
}
