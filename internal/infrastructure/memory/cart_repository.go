package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]*domain.Cart)}
}

func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[userID]
	if !ok {
		c = &domain.Cart{UserID: userID, UpdatedAt: time.Now().UTC()}
		r.carts[userID] = c
	}
	return c.Clone(), nil
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	_ = ctx
	if c == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.carts[c.UserID] = c.Clone()
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.carts[userID]; ok {
		c.Items = nil
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}
