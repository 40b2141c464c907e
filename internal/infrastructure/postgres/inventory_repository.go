package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InventoryRepository is the catalog and stock ledger backed by the products tables.
type InventoryRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, r.pool, productID)
}

// Put upserts a product and replaces its variants.
func (r *InventoryRepository) Put(ctx context.Context, p *domain.Product) error {
	images, err := json.Marshal(p.Images)
	if err != nil {
		return err
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO products (id, name, slug, images, price, stock, sold_count, active, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, slug = EXCLUDED.slug, images = EXCLUDED.images,
				price = EXCLUDED.price, stock = EXCLUDED.stock, sold_count = EXCLUDED.sold_count,
				active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
			p.ID, p.Name, p.Slug, images, p.Price.String(), p.Stock, p.SoldCount, p.Active, r.now())
		if err != nil {
			return fmt.Errorf("postgres: upsert product %s: %w", p.ID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM product_variants WHERE product_id = $1`, p.ID); err != nil {
			return fmt.Errorf("postgres: reset variants %s: %w", p.ID, err)
		}
		for _, v := range p.Variants {
			var price *string
			if v.Price.Valid {
				s := v.Price.Decimal.String()
				price = &s
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO product_variants (product_id, id, name, sku, price, stock)
				VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
				p.ID, v.ID, v.Name, v.SKU, price, v.Stock); err != nil {
				return fmt.Errorf("postgres: insert variant %s/%s: %w", p.ID, v.ID, err)
			}
		}
		return nil
	})
}

// Apply commits the whole batch or nothing.
func (r *InventoryRepository) Apply(ctx context.Context, adjustments []domain.Adjustment) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		return applyAdjustments(ctx, tx, adjustments, r.now())
	})
}

func getProduct(ctx context.Context, q querier, productID string) (*domain.Product, error) {
	var (
		p      domain.Product
		images []byte
		price  string
	)
	err := q.QueryRow(ctx, `
		SELECT id, name, slug, images, price::text, stock, sold_count, active, updated_at
		FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.Name, &p.Slug, &images, &price, &p.Stock, &p.SoldCount, &p.Active, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", productID, domain.ErrProductUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get product %s: %w", productID, err)
	}
	if err := json.Unmarshal(images, &p.Images); err != nil {
		return nil, fmt.Errorf("postgres: decode images %s: %w", productID, err)
	}
	if p.Price, err = parseNumeric(price); err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT id, name, sku, price::text, stock
		FROM product_variants WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list variants %s: %w", productID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			v      domain.Variant
			vprice *string
		)
		if err := rows.Scan(&v.ID, &v.Name, &v.SKU, &vprice, &v.Stock); err != nil {
			return nil, err
		}
		if vprice != nil {
			d, err := parseNumeric(*vprice)
			if err != nil {
				return nil, err
			}
			v.Price = decimal.NewNullDecimal(d)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// applyAdjustments issues one conditional update per movement. A zero row count
// means the guard (stock + delta >= 0) rejected it, so the caller's transaction is rolled back.
func applyAdjustments(ctx context.Context, q querier, adjustments []domain.Adjustment, at time.Time) error {
	for _, adj := range adjustments {
		if adj.VariantID != "" {
			tag, err := q.Exec(ctx, `
				UPDATE product_variants SET stock = stock + $3
				WHERE product_id = $1 AND id = $2 AND stock + $3 >= 0`,
				adj.ProductID, adj.VariantID, adj.Delta)
			if err != nil {
				return fmt.Errorf("postgres: adjust variant %s/%s: %w", adj.ProductID, adj.VariantID, err)
			}
			if tag.RowsAffected() != 1 {
				return missingOrShort(ctx, q, adj)
			}
			if _, err := q.Exec(ctx, `
				UPDATE products SET sold_count = GREATEST(sold_count - $2, 0), updated_at = $3
				WHERE id = $1`, adj.ProductID, adj.Delta, at); err != nil {
				return fmt.Errorf("postgres: sold count %s: %w", adj.ProductID, err)
			}
			continue
		}

		tag, err := q.Exec(ctx, `
			UPDATE products
			SET stock = stock + $2, sold_count = GREATEST(sold_count - $2, 0), updated_at = $3
			WHERE id = $1 AND stock + $2 >= 0`,
			adj.ProductID, adj.Delta, at)
		if err != nil {
			return fmt.Errorf("postgres: adjust product %s: %w", adj.ProductID, err)
		}
		if tag.RowsAffected() != 1 {
			return missingOrShort(ctx, q, adj)
		}
	}
	return nil
}

func missingOrShort(ctx context.Context, q querier, adj domain.Adjustment) error {
	var exists bool
	var err error
	if adj.VariantID != "" {
		err = q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM product_variants WHERE product_id = $1 AND id = $2)`,
			adj.ProductID, adj.VariantID).Scan(&exists)
		if err == nil && !exists {
			return fmt.Errorf("%s/%s: %w", adj.ProductID, adj.VariantID, domain.ErrVariantUnavailable)
		}
	} else {
		err = q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, adj.ProductID).Scan(&exists)
		if err == nil && !exists {
			return fmt.Errorf("%s: %w", adj.ProductID, domain.ErrProductUnavailable)
		}
	}
	if err != nil {
		return fmt.Errorf("postgres: check %s: %w", adj.ProductID, err)
	}
	return fmt.Errorf("%s: %w", adj.ProductID, domain.ErrStockRace)
}
