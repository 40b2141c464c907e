package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/application"
	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
	dompayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseOrderCancel = "order.cancel"
	useCaseOrderStatus = "order.update_status"
)

// CancelOrderUseCase lets a customer (or an admin) cancel an order before processing starts.
type CancelOrderUseCase struct {
	orders    domain.Repository
	publisher domoutbox.Publisher
	now       Clock
	ins       application.Instruments
}

func NewCancelOrderUseCase(orders domain.Repository, publisher domoutbox.Publisher, tel observability.Observability) *CancelOrderUseCase {
	return &CancelOrderUseCase{
		orders:    orders,
		publisher: publisher,
		now:       systemClock,
		ins:       application.NewInstruments(orderService, tel),
	}
}

type CancelOrderInput struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// Execute cancels the order and restores its stock in the same commit.
func (uc *CancelOrderUseCase) Execute(ctx context.Context, cmd CancelOrderInput) (_ *domain.Order, err error) {
	ctx, call := uc.ins.Begin(ctx, useCaseOrderCancel, "CancelOrder",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { call.End(ctx, err) }()

	if cmd.Actor.UserID == "" {
		call.Fail("USER_REQUIRED")
		return nil, ErrUserRequired
	}
	o, err := uc.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return nil, err
	}
	if !cmd.Actor.Admin && o.UserID != cmd.Actor.UserID {
		call.Fail("ORDER_NOT_OWNED")
		return nil, fmt.Errorf("%s: %w", cmd.OrderID, domain.ErrNotFound)
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "Cancelled by customer"
	}
	ch, err := o.Cancel(cmd.Actor.UserID, reason, uc.now())
	if err != nil {
		call.Fail("NOT_CANCELLABLE")
		return nil, err
	}
	saved, err := uc.orders.Save(ctx, ch)
	if err != nil {
		call.Fail(saveStatus(err))
		return nil, err
	}

	if !uc.ins.Publish(ctx, uc.publisher, domain.NewOrderStatusChangedEvent(ch.From, saved)) {
		call.Status("EVENT_PUBLISH_FAILED")
	}
	call.Span().SetAttributes(attribute.String("order.status", string(saved.Status)))
	return saved, nil
}

// UpdateStatusUseCase is the admin path through the fulfilment lifecycle.
type UpdateStatusUseCase struct {
	orders    domain.Repository
	publisher domoutbox.Publisher
	cod       CODSettlement
	now       Clock
	ins       application.Instruments
}

func NewUpdateStatusUseCase(orders domain.Repository, publisher domoutbox.Publisher, tel observability.Observability) *UpdateStatusUseCase {
	return &UpdateStatusUseCase{
		orders:    orders,
		publisher: publisher,
		now:       systemClock,
		ins:       application.NewInstruments(orderService, tel),
	}
}

// WithCODSettlement records cash on delivery payments when orders are delivered.
func (uc *UpdateStatusUseCase) WithCODSettlement(s CODSettlement) *UpdateStatusUseCase {
	uc.cod = s
	return uc
}

type UpdateStatusInput struct {
	OrderID string
	Status  string
	ActorID string
	Note    string
}

// Execute moves the order through the transition table. Cancelling here restores stock too.
func (uc *UpdateStatusUseCase) Execute(ctx context.Context, cmd UpdateStatusInput) (_ *domain.Order, err error) {
	ctx, call := uc.ins.Begin(ctx, useCaseOrderStatus, "UpdateOrderStatus",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.target_status", cmd.Status),
	)
	defer func() { call.End(ctx, err) }()

	to, err := domain.ParseStatus(cmd.Status)
	if err != nil {
		call.Fail("STATUS_UNKNOWN")
		return nil, err
	}
	o, err := uc.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return nil, err
	}
	ch, err := o.Transition(to, cmd.ActorID, cmd.Note, uc.now())
	if err != nil {
		call.Fail("TRANSITION_REJECTED")
		return nil, err
	}
	saved, err := uc.orders.Save(ctx, ch)
	if err != nil {
		call.Fail(saveStatus(err))
		return nil, err
	}

	if uc.cod != nil && saved.Status == domain.StatusDelivered && saved.Payment.Method == dompayment.MethodCOD {
		// the order is already delivered; a missed record is repaired by MarkCODCollected
		if err := uc.cod.RecordCODSettlement(ctx, saved); err != nil {
			call.Status("COD_SETTLEMENT_FAILED")
			call.Logger().Warn("cod_settlement_failed",
				observability.F("order_id", saved.ID),
				observability.Err(err),
			)
		}
	}
	if !uc.ins.Publish(ctx, uc.publisher, domain.NewOrderStatusChangedEvent(ch.From, saved)) {
		call.Status("EVENT_PUBLISH_FAILED")
	}
	return saved, nil
}

// GetOrderUseCase reads one order, hiding other customers' orders behind NotFound.
type GetOrderUseCase struct {
	orders domain.Repository
}

func NewGetOrderUseCase(orders domain.Repository) *GetOrderUseCase {
	return &GetOrderUseCase{orders: orders}
}

type GetOrderInput struct {
	Ref   string // id or order number
	Actor Actor
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, q GetOrderInput) (*domain.Order, error) {
	var (
		o   *domain.Order
		err error
	)
	if domain.ValidNumber(q.Ref) {
		o, err = uc.orders.GetByNumber(ctx, q.Ref)
	} else {
		o, err = uc.orders.Get(ctx, q.Ref)
	}
	if err != nil {
		return nil, err
	}
	if !q.Actor.Admin && o.UserID != q.Actor.UserID {
		return nil, fmt.Errorf("%s: %w", q.Ref, domain.ErrNotFound)
	}
	return o, nil
}

func saveStatus(err error) string {
	if errors.Is(err, domain.ErrConflict) {
		return "VERSION_CONFLICT"
	}
	return "REPO_SAVE_FAILED"
}

var (
	_ application.UseCase[CancelOrderInput, *domain.Order]  = (*CancelOrderUseCase)(nil)
	_ application.UseCase[UpdateStatusInput, *domain.Order] = (*UpdateStatusUseCase)(nil)
	_ application.UseCase[GetOrderInput, *domain.Order]     = (*GetOrderUseCase)(nil)
)
