package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

// New opens a client and checks it answers within two seconds.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

// KV is the part of the redis client the cart store uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CartRepository keeps each cart as one JSON document under cart:{userID}.
// Writes refresh the TTL so abandoned carts expire on their own.
type CartRepository struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

func NewCartRepository(kv KV, ttl time.Duration) *CartRepository {
	return &CartRepository{kv: kv, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func cartKey(userID string) string { return "cart:" + userID }

func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	raw, err := r.kv.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &domain.Cart{UserID: userID, UpdatedAt: r.now()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis cart: get %s: %w", userID, err)
	}
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("redis cart: decode %s: %w", userID, err)
	}
	c.UserID = userID
	return &c, nil
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis cart: encode %s: %w", c.UserID, err)
	}
	if err := r.kv.Set(ctx, cartKey(c.UserID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis cart: set %s: %w", c.UserID, err)
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if err := r.kv.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis cart: clear %s: %w", userID, err)
	}
	return nil
}
