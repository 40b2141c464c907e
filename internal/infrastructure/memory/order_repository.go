package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
)

// OrderRepository keeps orders in memory. Stock adjustments are committed through
// the shared InventoryRepository while the order lock is held, so a change either
// lands with its stock movement or not at all.
type OrderRepository struct {
	mu       sync.RWMutex
	orders   map[string]*domain.Order
	byNumber map[string]string
	stock    *InventoryRepository
}

func NewOrderRepository(stock *InventoryRepository) *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]*domain.Order),
		byNumber: make(map[string]string),
		stock:    stock,
	}
}

func (r *OrderRepository) Create(ctx context.Context, ch domain.Change) (*domain.Order, error) {
	_ = ctx
	o := ch.Order
	if o.ID == "" || o.Number == "" {
		return nil, fmt.Errorf("order repository: id and number are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return nil, domain.ErrConflict
	}
	if _, exists := r.byNumber[o.Number]; exists {
		return nil, fmt.Errorf("%s: %w", o.Number, domain.ErrDuplicateNumber)
	}
	if err := r.applyStock(ch); err != nil {
		return nil, err
	}

	stored := o.Clone()
	stored.Version = 1
	r.orders[o.ID] = &stored
	r.byNumber[o.Number] = o.ID
	return cloneOrder(&stored), nil
}

func (r *OrderRepository) Save(ctx context.Context, ch domain.Change) (*domain.Order, error) {
	_ = ctx
	o := ch.Order

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.orders[o.ID]
	if !exists {
		return nil, domain.ErrNotFound
	}
	if cur.Version != o.Version {
		return nil, fmt.Errorf("order %s: version %d, stored %d: %w", o.Number, o.Version, cur.Version, domain.ErrConflict)
	}
	if err := r.applyStock(ch); err != nil {
		return nil, err
	}

	stored := o.Clone()
	stored.Version = cur.Version + 1
	r.orders[o.ID] = &stored
	return cloneOrder(&stored), nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byNumber[number]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

func (r *OrderRepository) applyStock(ch domain.Change) error {
	if len(ch.Stock) == 0 {
		return nil
	}
	if r.stock == nil {
		return fmt.Errorf("order repository: no stock ledger configured")
	}
	r.stock.mu.Lock()
	defer r.stock.mu.Unlock()
	return r.stock.applyLocked(ch.Stock)
}

func cloneOrder(order *domain.Order) *domain.Order {
	if order == nil {
		return nil
	}
	clone := order.Clone()
	return &clone
}
