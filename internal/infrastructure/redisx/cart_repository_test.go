package redisx

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type mapKV struct {
	data map[string]string
	ttls map[string]time.Duration
	fail error
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mapKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.fail != nil {
		return redis.NewStringResult("", m.fail)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mapKV) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = string(value.([]byte))
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mapKV) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestCartRoundTripAndClear(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	repo := NewCartRepository(kv, time.Hour)

	c, err := repo.GetOrCreate(ctx, "u-1")
	if err != nil || !c.Empty() {
		t.Fatalf("new cart = %+v, %v", c, err)
	}
	at := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	_ = c.Add(domain.Item{ProductID: "bowl", Quantity: 2, Price: decimal.NewFromInt(1000)}, at)
	_ = c.Add(domain.Item{ProductID: "bowl", Quantity: 1, Price: decimal.NewFromInt(1000)}, at)
	if err := repo.Save(ctx, c); err != nil {
		t.Fatal(err)
	}
	if kv.ttls["cart:u-1"] != time.Hour {
		t.Fatalf("ttl = %s", kv.ttls["cart:u-1"])
	}

	got, err := repo.GetOrCreate(ctx, "u-1")
	if err != nil || len(got.Items) != 1 || got.Items[0].Quantity != 3 || !got.Items[0].Price.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("stored cart = %+v, %v", got, err)
	}

	if err := repo.Clear(ctx, "u-1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := repo.GetOrCreate(ctx, "u-1"); !got.Empty() {
		t.Fatalf("cart survived clear: %+v", got.Items)
	}
}

func TestCartBackendErrorsSurface(t *testing.T) {
	kv := newMapKV()
	kv.fail = errors.New("connection refused")
	if _, err := NewCartRepository(kv, 0).GetOrCreate(context.Background(), "u-1"); err == nil {
		t.Fatal("backend error swallowed")
	}
}
