package id

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	"github.com/google/uuid"
)

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// UUIDGenerator issues random v4 identifiers.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// OrderNumberGenerator issues ORD-YYYYMMDD-XXXXX numbers. Uniqueness is enforced by the
// repository; callers retry on collision.
type OrderNumberGenerator struct {
	now func() time.Time
}

func NewOrderNumberGenerator() OrderNumberGenerator {
	return OrderNumberGenerator{now: time.Now}
}

func (g OrderNumberGenerator) NewNumber() string {
	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return order.FormatNumber(now(), randomBase36(order.NumberSuffixLen))
}

func randomBase36(n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(base36[v.Int64()])
	}
	return b.String()
}
