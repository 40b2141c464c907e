package cart

import (
	"context"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = apperr.New(apperr.Validation, "cart: quantity must be greater than zero")

type Item struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // price when added; orders re-read the catalog
	AddedAt   time.Time       `json:"addedAt"`
}

type Cart struct {
	UserID    string    `json:"userId"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Cart) Empty() bool { return c == nil || len(c.Items) == 0 }

// Add merges quantity into an existing line for the same product and variant.
func (c *Cart) Add(item Item, at time.Time) error {
	if item.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID && c.Items[i].VariantID == item.VariantID {
			c.Items[i].Quantity += item.Quantity
			c.Items[i].Price = item.Price
			c.UpdatedAt = at
			return nil
		}
	}
	item.AddedAt = at
	c.Items = append(c.Items, item)
	c.UpdatedAt = at
	return nil
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = append([]Item(nil), c.Items...)
	return &out
}

// Repository stores one cart per user.
type Repository interface {
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID string) error
}
