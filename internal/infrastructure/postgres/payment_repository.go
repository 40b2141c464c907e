package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `id, order_id, user_id, gateway, amount::text, currency, status, transaction_id,
	reference_id, raw_response, failure_reason, created_at, updated_at, completed_at`

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, user_id, gateway, amount, currency, status, transaction_id,
			reference_id, raw_response, failure_reason, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OrderID, p.UserID, string(p.Gateway), p.Amount.String(), p.Currency, string(p.Status),
		p.Response.TransactionID, p.Response.ReferenceID, rawOrNil(p.Response.Raw), p.FailureReason,
		p.CreatedAt, p.UpdatedAt, p.CompletedAt)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET
			status = $2, transaction_id = $3, reference_id = $4, raw_response = $5,
			failure_reason = $6, updated_at = $7, completed_at = $8
		WHERE id = $1`,
		p.ID, string(p.Status), p.Response.TransactionID, p.Response.ReferenceID, rawOrNil(p.Response.Raw),
		p.FailureReason, p.UpdatedAt, p.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: update payment %s: %w", p.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepository) Latest(ctx context.Context, orderID string, gateway domain.Method) (*domain.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 AND gateway = $2
		ORDER BY seq DESC LIMIT 1`, orderID, string(gateway)))
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payments %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p       domain.Payment
		gateway string
		status  string
		amount  string
		raw     []byte
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &gateway, &amount, &p.Currency, &status,
		&p.Response.TransactionID, &p.Response.ReferenceID, &raw, &p.FailureReason,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan payment: %w", err)
	}
	p.Gateway = domain.Method(gateway)
	p.Status = domain.Status(status)
	p.Response.Raw = raw
	if p.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

func rawOrNil(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
