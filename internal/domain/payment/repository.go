package payment

import "context"

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	// Latest returns the most recent attempt for the order through gateway.
	Latest(ctx context.Context, orderID string, gateway Method) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*Payment, error)
}
