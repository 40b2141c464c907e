package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/application"
	domcart "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
	dominventory "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
	domain "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
	dompayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService      = "order-service"
	useCaseOrderPlace = "order.place"

	numberAttempts = 5
)

// PlaceOrderUseCase turns the caller's cart into a priced order and reserves its stock.
type PlaceOrderUseCase struct {
	orders    domain.Repository
	catalog   dominventory.Catalog
	carts     domcart.Repository
	ids       IDGenerator
	numbers   NumberGenerator
	publisher domoutbox.Publisher
	now       Clock
	ins       application.Instruments
}

func NewPlaceOrderUseCase(
	orders domain.Repository,
	catalog dominventory.Catalog,
	carts domcart.Repository,
	ids IDGenerator,
	numbers NumberGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *PlaceOrderUseCase {
	return &PlaceOrderUseCase{
		orders:    orders,
		catalog:   catalog,
		carts:     carts,
		ids:       ids,
		numbers:   numbers,
		publisher: publisher,
		now:       systemClock,
		ins:       application.NewInstruments(orderService, tel),
	}
}

// WithClock replaces the time source.
func (uc *PlaceOrderUseCase) WithClock(c Clock) *PlaceOrderUseCase {
	if c != nil {
		uc.now = c
	}
	return uc
}

type PlaceOrderInput struct {
	UserID          string
	ShippingAddress domain.Address
	PaymentMethod   dompayment.Method
	Notes           string
}

// Execute snapshots every cart line against the live catalog, prices the order and
// commits it together with its stock reservation. Nothing is reserved on failure.
func (uc *PlaceOrderUseCase) Execute(ctx context.Context, cmd PlaceOrderInput) (_ *domain.Order, err error) {
	ctx, call := uc.ins.Begin(ctx, useCaseOrderPlace, "PlaceOrder",
		attribute.String("order.user_id", cmd.UserID),
		attribute.String("order.payment_method", string(cmd.PaymentMethod)),
	)
	defer func() { call.End(ctx, err) }()

	if cmd.UserID == "" {
		call.Fail("USER_REQUIRED")
		return nil, ErrUserRequired
	}
	if !cmd.PaymentMethod.Valid() {
		call.Fail("PAYMENT_METHOD_INVALID")
		return nil, fmt.Errorf("payment method %q: %w", cmd.PaymentMethod, domain.ErrInvalidOrder)
	}

	c, err := uc.carts.GetOrCreate(ctx, cmd.UserID)
	if err != nil {
		call.Fail("CART_LOAD_FAILED")
		return nil, fmt.Errorf("order: load cart: %w", err)
	}
	if c.Empty() {
		call.Fail("CART_EMPTY")
		return nil, ErrEmptyCart
	}

	items, err := uc.snapshot(ctx, c.Items)
	if err != nil {
		call.Fail("ITEM_UNAVAILABLE")
		return nil, err
	}

	var created *domain.Order
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			call.Fail("CONTEXT_CANCELED")
			return nil, err
		}
		ch, derr := domain.New(domain.Params{
			ID:              uc.ids.NewID(),
			Number:          uc.numbers.NewNumber(),
			UserID:          cmd.UserID,
			Items:           items,
			ShippingAddress: cmd.ShippingAddress,
			PaymentMethod:   cmd.PaymentMethod,
			Notes:           cmd.Notes,
			At:              uc.now(),
		})
		if derr != nil {
			call.Fail("DOMAIN_CONSTRUCTION_FAILED")
			return nil, derr
		}

		created, err = uc.orders.Create(ctx, ch)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrDuplicateNumber) && attempt < numberAttempts {
			call.Span().AddEvent("order.number_collision")
			continue
		}
		if errors.Is(err, dominventory.ErrStockRace) {
			call.Fail("STOCK_RACE_LOST")
		} else {
			call.Fail("REPO_CREATE_FAILED")
		}
		return nil, err
	}
	call.With("order_id", created.ID)
	call.With("order_number", created.Number)

	if created.Payment.Method == dompayment.MethodCOD {
		if err := uc.ins.External(ctx, "cart", "clear", func(ctx context.Context) error {
			return uc.carts.Clear(ctx, cmd.UserID)
		}); err != nil {
			call.With("cart_clear_error", err.Error())
		}
	}

	if !uc.ins.Publish(ctx, uc.publisher,
		domain.NewOrderPlacedEvent(created),
		domain.NewNewOrderAdminEvent(created),
	) {
		call.Status("EVENT_PUBLISH_FAILED")
	}

	call.Span().SetAttributes(attribute.String("order.status", string(created.Status)))
	call.Span().AddEvent("order.placed", trace.WithAttributes(
		attribute.String("order.id", created.ID),
		attribute.String("order.total", created.Pricing.Total.String()),
	))
	return created, nil
}

func (uc *PlaceOrderUseCase) snapshot(ctx context.Context, lines []domcart.Item) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(lines))
	for _, line := range lines {
		p, err := uc.catalog.Get(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, dominventory.ErrProductUnavailable) {
				return nil, fmt.Errorf("product %s: %w", line.ProductID, err)
			}
			return nil, fmt.Errorf("order: load product %s: %w", line.ProductID, err)
		}
		if err := p.CheckPurchasable(line.VariantID, line.Quantity); err != nil {
			return nil, err
		}
		var image string
		if len(p.Images) > 0 {
			image = p.Images[0]
		}
		items = append(items, domain.Item{
			ProductID: p.ID,
			VariantID: line.VariantID,
			Name:      p.Name,
			Slug:      p.Slug,
			Image:     image,
			Price:     p.PriceFor(line.VariantID),
			Quantity:  line.Quantity,
		})
	}
	return items, nil
}

var _ application.UseCase[PlaceOrderInput, *domain.Order] = (*PlaceOrderUseCase)(nil)
