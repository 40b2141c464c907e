package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository stores orders as a row of scalar columns plus JSONB documents
// for the embedded snapshots. Stock movements commit in the same transaction.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, number, user_id, status, payment, items, shipping_address, pricing,
	status_history, notes, delivered_at, cancelled_at, cancellation_reason, version, created_at, updated_at`

type orderDocs struct {
	payment, items, address, pricing, history []byte
}

func encodeOrder(o *domain.Order) (orderDocs, error) {
	var d orderDocs
	var err error
	if d.payment, err = json.Marshal(o.Payment); err != nil {
		return d, err
	}
	if d.items, err = json.Marshal(o.Items); err != nil {
		return d, err
	}
	if d.address, err = json.Marshal(o.ShippingAddress); err != nil {
		return d, err
	}
	if d.pricing, err = json.Marshal(o.Pricing); err != nil {
		return d, err
	}
	if d.history, err = json.Marshal(o.StatusHistory); err != nil {
		return d, err
	}
	return d, nil
}

func (r *OrderRepository) Create(ctx context.Context, ch domain.Change) (*domain.Order, error) {
	o := ch.Order.Clone()
	o.Version = 1
	docs, err := encodeOrder(&o)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode order %s: %w", o.ID, err)
	}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			o.ID, o.Number, o.UserID, string(o.Status), docs.payment, docs.items, docs.address, docs.pricing,
			docs.history, o.Notes, o.DeliveredAt, o.CancelledAt, o.CancellationReason, o.Version, o.CreatedAt, o.UpdatedAt)
		if isUniqueViolation(err, "orders_number_key") {
			return fmt.Errorf("%s: %w", o.Number, domain.ErrDuplicateNumber)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
		}
		return applyAdjustments(ctx, tx, ch.Stock, o.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) Save(ctx context.Context, ch domain.Change) (*domain.Order, error) {
	o := ch.Order.Clone()
	docs, err := encodeOrder(&o)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode order %s: %w", o.ID, err)
	}

	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET
				status = $3, payment = $4, items = $5, shipping_address = $6, pricing = $7,
				status_history = $8, notes = $9, delivered_at = $10, cancelled_at = $11,
				cancellation_reason = $12, updated_at = $13, version = version + 1
			WHERE id = $1 AND version = $2`,
			o.ID, o.Version, string(o.Status), docs.payment, docs.items, docs.address, docs.pricing,
			docs.history, o.Notes, o.DeliveredAt, o.CancelledAt, o.CancellationReason, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
		}
		if tag.RowsAffected() != 1 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
				return fmt.Errorf("postgres: check order %s: %w", o.ID, err)
			}
			if !exists {
				return fmt.Errorf("%s: %w", o.ID, domain.ErrNotFound)
			}
			return fmt.Errorf("%s at version %d: %w", o.ID, o.Version, domain.ErrConflict)
		}
		return applyAdjustments(ctx, tx, ch.Stock, o.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	o.Version++
	return &o, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
}

func (r *OrderRepository) one(ctx context.Context, sql, key string) (*domain.Order, error) {
	var (
		o           domain.Order
		status      string
		docs        orderDocs
		deliveredAt *time.Time
		cancelledAt *time.Time
	)
	err := r.pool.QueryRow(ctx, sql, key).Scan(
		&o.ID, &o.Number, &o.UserID, &status, &docs.payment, &docs.items, &docs.address, &docs.pricing,
		&docs.history, &o.Notes, &deliveredAt, &cancelledAt, &o.CancellationReason, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get order %s: %w", key, err)
	}
	o.Status = domain.Status(status)
	o.DeliveredAt, o.CancelledAt = deliveredAt, cancelledAt

	for _, d := range []struct {
		raw []byte
		dst any
	}{
		{docs.payment, &o.Payment},
		{docs.items, &o.Items},
		{docs.address, &o.ShippingAddress},
		{docs.pricing, &o.Pricing},
		{docs.history, &o.StatusHistory},
	} {
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("postgres: decode order %s: %w", key, err)
		}
	}
	return &o, nil
}
