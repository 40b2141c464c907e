package inventory

import (
	"fmt"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrProductUnavailable = apperr.New(apperr.NotFound, "inventory: product unavailable")
	ErrVariantUnavailable = apperr.New(apperr.NotFound, "inventory: variant unavailable")
	ErrInvalidQuantity    = apperr.New(apperr.Validation, "inventory: quantity must be greater than zero")
	ErrInsufficientStock  = apperr.New(apperr.BusinessRule, "inventory: insufficient stock")
	// ErrStockRace is returned when the conditional decrement loses to a concurrent reservation.
	ErrStockRace = apperr.New(apperr.Conflict, "inventory: stock changed concurrently")
)

// Variant is a purchasable option of a product with its own stock.
type Variant struct {
	ID    string
	Name  string
	SKU   string
	Price decimal.NullDecimal // falls back to the product price when invalid
	Stock int
}

type Product struct {
	ID        string
	Name      string
	Slug      string
	Images    []string
	Price     decimal.Decimal
	Stock     int
	SoldCount int
	Active    bool
	Variants  []Variant
	UpdatedAt time.Time
}

// Variant looks up a variant by id.
func (p *Product) Variant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// PriceFor returns the unit price of the product or one of its variants.
func (p *Product) PriceFor(variantID string) decimal.Decimal {
	if variantID == "" {
		return p.Price
	}
	if v, ok := p.Variant(variantID); ok && v.Price.Valid {
		return v.Price.Decimal
	}
	return p.Price
}

// Available reports the stock that a purchase of variantID draws from.
func (p *Product) Available(variantID string) (int, error) {
	if variantID == "" {
		return p.Stock, nil
	}
	v, ok := p.Variant(variantID)
	if !ok {
		return 0, ErrVariantUnavailable
	}
	return v.Stock, nil
}

// CheckPurchasable validates that quantity units of the product (or variant) can be sold right now.
func (p *Product) CheckPurchasable(variantID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !p.Active {
		return fmt.Errorf("%s: %w", p.ID, ErrProductUnavailable)
	}
	avail, err := p.Available(variantID)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", p.ID, variantID, err)
	}
	if avail < quantity {
		return fmt.Errorf("%s: requested %d, available %d: %w", p.Name, quantity, avail, ErrInsufficientStock)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = append([]string(nil), p.Images...)
	c.Variants = append([]Variant(nil), p.Variants...)
	return &c
}

// Adjustment is a signed stock movement. Delta < 0 reserves (sold count rises),
// Delta > 0 restores (sold count falls).
type Adjustment struct {
	ProductID string
	VariantID string
	Delta     int
}

// Reserve builds the adjustment that takes quantity units out of stock.
func Reserve(productID, variantID string, quantity int) Adjustment {
	return Adjustment{ProductID: productID, VariantID: variantID, Delta: -quantity}
}

// Restore builds the adjustment that puts quantity units back.
func Restore(productID, variantID string, quantity int) Adjustment {
	return Adjustment{ProductID: productID, VariantID: variantID, Delta: quantity}
}

// Apply mutates p according to adj. It refuses to take stock below zero, leaving p untouched.
func (p *Product) Apply(adj Adjustment, at time.Time) error {
	if adj.VariantID != "" {
		v, ok := p.Variant(adj.VariantID)
		if !ok {
			return fmt.Errorf("%s/%s: %w", p.ID, adj.VariantID, ErrVariantUnavailable)
		}
		if v.Stock+adj.Delta < 0 {
			return fmt.Errorf("%s/%s: %w", p.ID, adj.VariantID, ErrStockRace)
		}
		v.Stock += adj.Delta
	} else {
		if p.Stock+adj.Delta < 0 {
			return fmt.Errorf("%s: %w", p.ID, ErrStockRace)
		}
		p.Stock += adj.Delta
	}
	p.SoldCount -= adj.Delta
	if p.SoldCount < 0 {
		p.SoldCount = 0
	}
	p.UpdatedAt = at
	return nil
}
