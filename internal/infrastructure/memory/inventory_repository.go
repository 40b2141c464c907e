package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
)

// InventoryRepository is both the product catalog and the stock ledger.
type InventoryRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewInventoryRepository(seed ...*domain.Product) *InventoryRepository {
	r := &InventoryRepository{
		products: make(map[string]*domain.Product, len(seed)),
	}
	for _, p := range seed {
		r.products[p.ID] = p.Clone()
	}
	return r
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[productID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", productID, domain.ErrProductUnavailable)
	}
	return p.Clone(), nil
}

// Put inserts or replaces a product.
func (r *InventoryRepository) Put(ctx context.Context, p *domain.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("inventory repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = p.Clone()
	return nil
}

// Apply commits every adjustment or none of them.
func (r *InventoryRepository) Apply(ctx context.Context, adjustments []domain.Adjustment) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.applyLocked(adjustments)
}

func (r *InventoryRepository) applyLocked(adjustments []domain.Adjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	now := time.Now().UTC()
	staged := make(map[string]*domain.Product, len(adjustments))
	for _, adj := range adjustments {
		p, ok := staged[adj.ProductID]
		if !ok {
			cur, exists := r.products[adj.ProductID]
			if !exists {
				return fmt.Errorf("%s: %w", adj.ProductID, domain.ErrProductUnavailable)
			}
			p = cur.Clone()
			staged[adj.ProductID] = p
		}
		if err := p.Apply(adj, now); err != nil {
			return err
		}
	}
	for id, p := range staged {
		r.products[id] = p
	}
	return nil
}
