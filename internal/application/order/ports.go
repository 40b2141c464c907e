package order

import (
	"context"
	"time"

	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
)

type IDGenerator interface {
	NewID() string
}

// NumberGenerator issues human-facing order numbers. Collisions are resolved by retrying.
type NumberGenerator interface {
	NewNumber() string
}

type Clock func() time.Time

// CODSettlement completes the payment record of a cash on delivery order once delivery has marked it paid.
type CODSettlement interface {
	RecordCODSettlement(ctx context.Context, o *domain.Order) error
}

// Actor is the caller as identified at the boundary.
type Actor struct {
	UserID string
	Admin  bool
}

var (
	ErrEmptyCart    = apperr.New(apperr.Validation, "order: cart is empty")
	ErrUserRequired = apperr.New(apperr.Validation, "order: user is required")

	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

func systemClock() time.Time { return time.Now().UTC() }
