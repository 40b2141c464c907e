package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/application"
	domcart "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
	domorder "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
	dompayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	paymentService = "payment-service"

	useCaseInitiate     = "payment.initiate"
	useCaseVerify       = "payment.verify"
	useCaseCallback     = "payment.callback"
	useCaseCODCollected = "payment.cod_collected"
	useCaseCODSettled   = "payment.cod_settled"
	useCaseRefund       = "payment.refund"

	// settleAttempts bounds how often a verified settlement is re-derived after losing a version race.
	settleAttempts = 3
)

var (
	ErrGatewayMismatch = apperr.New(apperr.Validation, "payment: gateway does not match the order's payment method")
	ErrNothingToRefund = apperr.New(apperr.BusinessRule, "payment: no completed payment to refund")
	ErrOrderRequired   = apperr.New(apperr.Validation, "payment: order reference is required")
	ErrCODNotCollected = apperr.New(apperr.BusinessRule, "payment: cash on delivery not collected yet")
)

// Orchestrator drives payment attempts for orders through the registered gateways.
type Orchestrator struct {
	orders    domorder.Repository
	payments  dompayment.Repository
	carts     domcart.Repository
	registry  *Registry
	publisher domoutbox.Publisher
	ids       IDGenerator
	now       Clock
	ins       application.Instruments
}

func NewOrchestrator(
	orders domorder.Repository,
	payments dompayment.Repository,
	carts domcart.Repository,
	registry *Registry,
	publisher domoutbox.Publisher,
	ids IDGenerator,
	tel observability.Observability,
) *Orchestrator {
	return &Orchestrator{
		orders:    orders,
		payments:  payments,
		carts:     carts,
		registry:  registry,
		publisher: publisher,
		ids:       ids,
		now:       func() time.Time { return time.Now().UTC() },
		ins:       application.NewInstruments(paymentService, tel),
	}
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(c Clock) *Orchestrator {
	if c != nil {
		o.now = c
	}
	return o
}

type InitiateInput struct {
	OrderRef string // order id or number
	Gateway  dompayment.Method
	UserID   string // when set, the order must belong to this user
	Customer dompayment.Customer
}

type InitiateOutput struct {
	PaymentID     string
	OrderID       string
	OrderNumber   string
	Success       bool
	Status        dompayment.Status
	TransactionID string
	Redirect      *dompayment.Redirect
	Reason        string
}

// InitiatePayment opens a new attempt for the order. A gateway that refuses or
// fails leaves the attempt failed and reports Success=false instead of an error.
func (o *Orchestrator) InitiatePayment(ctx context.Context, in InitiateInput) (_ *InitiateOutput, err error) {
	ctx, call := o.ins.Begin(ctx, useCaseInitiate, "InitiatePayment",
		attribute.String("order.ref", in.OrderRef),
		attribute.String("payment.gateway", string(in.Gateway)),
	)
	defer func() { call.End(ctx, err) }()

	gw, err := o.registry.Resolve(in.Gateway)
	if err != nil {
		call.Fail("UNKNOWN_GATEWAY")
		return nil, err
	}
	order, err := o.loadOrder(ctx, in.OrderRef)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	call.With("order_id", order.ID)

	switch {
	case in.UserID != "" && order.UserID != in.UserID:
		call.Fail("ORDER_NOT_OWNED")
		return nil, domorder.ErrNotFound
	case order.Payment.Status == domorder.PaymentPaid:
		call.Fail("ORDER_ALREADY_PAID")
		return nil, fmt.Errorf("order %s: %w", order.Number, domorder.ErrAlreadyPaid)
	case order.Status == domorder.StatusCancelled:
		call.Fail("ORDER_CANCELLED")
		return nil, fmt.Errorf("order %s: %w", order.Number, domorder.ErrOrderCancelled)
	case order.Payment.Method != in.Gateway:
		call.Fail("GATEWAY_MISMATCH")
		return nil, fmt.Errorf("order %s pays by %s: %w", order.Number, order.Payment.Method, ErrGatewayMismatch)
	}

	p := dompayment.New(o.ids.NewID(), order.ID, order.UserID, in.Gateway, order.Pricing.Total, o.now())
	if err := o.payments.Insert(ctx, p); err != nil {
		call.Fail("PAYMENT_INSERT_FAILED")
		return nil, fmt.Errorf("payment: insert attempt: %w", err)
	}
	call.With("payment_id", p.ID)

	out := &InitiateOutput{PaymentID: p.ID, OrderID: order.ID, OrderNumber: order.Number}

	var res *dompayment.InitiateResult
	gwErr := o.ins.External(ctx, string(in.Gateway), "initiate", func(ctx context.Context) error {
		var err error
		res, err = gw.Initiate(ctx, dompayment.InitiateRequest{
			PaymentID:   p.ID,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Amount:      p.Amount,
			Customer:    in.Customer,
		})
		return err
	})

	switch {
	case gwErr != nil:
		p.MarkFailed(gwErr.Error(), nil, o.now())
		out.Reason = gwErr.Error()
		call.Status("GATEWAY_INITIATE_FAILED")
	case res == nil || !res.Success:
		reason := "gateway declined"
		var raw []byte
		if res != nil {
			if res.Reason != "" {
				reason = res.Reason
			}
			raw = res.Raw
		}
		p.MarkFailed(reason, raw, o.now())
		out.Reason = reason
		call.Status("GATEWAY_DECLINED")
	default:
		p.MarkPending(res.TransactionID, res.Raw, o.now())
		out.Success = true
		out.TransactionID = res.TransactionID
		out.Redirect = res.Redirect
	}
	out.Status = p.Status

	if err := o.payments.Update(ctx, p); err != nil {
		call.Fail("PAYMENT_UPDATE_FAILED")
		return nil, fmt.Errorf("payment: record initiate outcome: %w", err)
	}
	call.Span().SetAttributes(attribute.String("payment.status", string(p.Status)))
	return out, nil
}

type VerifyInput struct {
	OrderRef string
	Gateway  dompayment.Method
	Callback dompayment.Callback
}

type VerifyOutput struct {
	Verified       bool
	AlreadySettled bool
	PaymentID      string
	OrderID        string
	OrderNumber    string
	PaymentStatus  dompayment.Status
	OrderStatus    domorder.Status
	Reason         string
}

// VerifyPayment confirms the latest attempt with its gateway and, on success,
// settles the order exactly once. Repeated calls for a settled attempt are no-ops.
func (o *Orchestrator) VerifyPayment(ctx context.Context, in VerifyInput) (_ *VerifyOutput, err error) {
	ctx, call := o.ins.Begin(ctx, useCaseVerify, "VerifyPayment",
		attribute.String("order.ref", in.OrderRef),
		attribute.String("payment.gateway", string(in.Gateway)),
	)
	defer func() { call.End(ctx, err) }()

	gw, err := o.registry.Resolve(in.Gateway)
	if err != nil {
		call.Fail("UNKNOWN_GATEWAY")
		return nil, err
	}
	order, err := o.loadOrder(ctx, in.OrderRef)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	call.With("order_id", order.ID)

	p, err := o.payments.Latest(ctx, order.ID, in.Gateway)
	if err != nil {
		call.Fail("PAYMENT_RECORD_NOT_FOUND")
		return nil, fmt.Errorf("order %s via %s: %w", order.Number, in.Gateway, err)
	}
	call.With("payment_id", p.ID)

	out := &VerifyOutput{PaymentID: p.ID, OrderID: order.ID, OrderNumber: order.Number}
	if p.Status == dompayment.StatusCompleted {
		// nothing changes; Verified still reports whether this callback checks out
		call.Status("IDEMPOTENT_REPLAY")
		out.AlreadySettled = true
		out.PaymentStatus, out.OrderStatus = p.Status, order.Status
		res, verr := o.verify(ctx, gw, in, order, p)
		switch {
		case verr != nil:
			out.Reason = verr.Error()
		case res.Verified && (!res.Amount.Valid || res.Amount.Decimal.Equal(p.Amount)):
			out.Verified = true
		default:
			out.Reason = res.Reason
		}
		return out, nil
	}

	res, err := o.verify(ctx, gw, in, order, p)
	if err != nil {
		// the attempt stays as it is so the caller can retry
		call.Fail("GATEWAY_VERIFY_FAILED")
		return nil, err
	}

	if res.Verified && res.Amount.Valid && !res.Amount.Decimal.Equal(p.Amount) {
		res.Verified = false
		res.Status = dompayment.StatusFailed
		res.Reason = fmt.Sprintf("amount mismatch: gateway %s, expected %s", res.Amount.Decimal, p.Amount)
	}

	if !res.Verified {
		return o.rejectAttempt(ctx, call, order, p, res, out)
	}
	return o.settle(ctx, call, order, p, res, out)
}

func (o *Orchestrator) verify(
	ctx context.Context,
	gw dompayment.Gateway,
	in VerifyInput,
	order *domorder.Order,
	p *dompayment.Payment,
) (*dompayment.VerifyResult, error) {
	var res *dompayment.VerifyResult
	err := o.ins.External(ctx, string(in.Gateway), "verify", func(ctx context.Context) error {
		var err error
		res, err = gw.Verify(ctx, dompayment.VerifyRequest{
			TransactionID: p.Response.TransactionID,
			OrderNumber:   order.Number,
			Amount:        p.Amount,
			Callback:      in.Callback,
		})
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == "" {
			err = apperr.Wrap(apperr.ExternalGateway, err, "verify "+string(in.Gateway))
		}
		return nil, err
	}
	if res == nil {
		return nil, apperr.Errorf(apperr.ExternalGateway, "verify %s: empty result", in.Gateway)
	}
	return res, nil
}

func (o *Orchestrator) rejectAttempt(
	ctx context.Context,
	call *application.Call,
	order *domorder.Order,
	p *dompayment.Payment,
	res *dompayment.VerifyResult,
	out *VerifyOutput,
) (*VerifyOutput, error) {
	out.Reason = res.Reason
	out.OrderStatus = order.Status

	if res.Status == dompayment.StatusPending {
		call.Status("PAYMENT_PENDING")
		out.PaymentStatus = p.Status
		return out, nil
	}

	call.Status("PAYMENT_NOT_VERIFIED")
	p.MarkFailed(res.Reason, res.Raw, o.now())
	if err := o.payments.Update(ctx, p); err != nil {
		call.Fail("PAYMENT_UPDATE_FAILED")
		return nil, fmt.Errorf("payment: record failure: %w", err)
	}
	out.PaymentStatus = p.Status

	if order.Payment.Status == domorder.PaymentPending && order.Status != domorder.StatusCancelled {
		ch, err := order.MarkPaymentFailed(o.now())
		if err == nil {
			_, err = o.orders.Save(ctx, ch)
		}
		if err != nil {
			call.Logger().Warn("order_payment_flag_failed",
				observability.F("order_id", order.ID),
				observability.Err(err),
			)
		}
	}
	return out, nil
}

func (o *Orchestrator) settle(
	ctx context.Context,
	call *application.Call,
	order *domorder.Order,
	p *dompayment.Payment,
	res *dompayment.VerifyResult,
	out *VerifyOutput,
) (*VerifyOutput, error) {
	now := o.now()
	txn := p.Response.TransactionID
	var saved *domorder.Order
	var from domorder.Status
	settledElsewhere := false

	for attempt := 0; ; attempt++ {
		ch, err := order.MarkPaymentComplete(txn, now)
		if errors.Is(err, domorder.ErrAlreadyPaid) && order.Payment.TransactionID == txn {
			settledElsewhere = true
			saved = order
			break
		}
		if errors.Is(err, domorder.ErrOrderCancelled) {
			call.Fail("ORDER_CANCELLED_BEFORE_SETTLEMENT")
			p.MarkFailed("order cancelled before settlement; refund required", res.Raw, now)
			if uerr := o.payments.Update(ctx, p); uerr != nil {
				call.With("payment_update_error", uerr.Error())
			}
			call.Logger().Warn("payment_captured_for_cancelled_order",
				observability.F("order_id", order.ID),
				observability.F("payment_id", p.ID),
				observability.F("reference_id", res.ReferenceID),
			)
			return nil, err
		}
		if err != nil {
			call.Fail("ORDER_SETTLE_REJECTED")
			return nil, err
		}

		saved, err = o.orders.Save(ctx, ch)
		if err == nil {
			from = ch.From
			break
		}
		if !errors.Is(err, domorder.ErrConflict) || attempt+1 >= settleAttempts {
			call.Fail("ORDER_SAVE_FAILED")
			return nil, err
		}
		call.Span().AddEvent("order.version_conflict")
		if order, err = o.orders.Get(ctx, order.ID); err != nil {
			call.Fail("ORDER_RELOAD_FAILED")
			return nil, err
		}
	}

	if err := p.MarkCompleted(res.ReferenceID, res.Raw, now); err != nil && !errors.Is(err, dompayment.ErrAlreadySettled) {
		call.Fail("PAYMENT_COMPLETE_FAILED")
		return nil, err
	}
	if err := o.payments.Update(ctx, p); err != nil {
		call.Fail("PAYMENT_UPDATE_FAILED")
		return nil, fmt.Errorf("payment: record completion: %w", err)
	}

	out.Verified = true
	out.AlreadySettled = settledElsewhere
	out.PaymentStatus = p.Status
	out.OrderStatus = saved.Status
	if settledElsewhere {
		call.Status("IDEMPOTENT_REPLAY")
		return out, nil
	}

	if o.carts != nil {
		if err := o.ins.External(ctx, "cart", "clear", func(ctx context.Context) error {
			return o.carts.Clear(ctx, saved.UserID)
		}); err != nil {
			call.With("cart_clear_error", err.Error())
		}
	}
	if from != saved.Status {
		if !o.ins.Publish(ctx, o.publisher, domorder.NewOrderStatusChangedEvent(from, saved)) {
			call.Status("EVENT_PUBLISH_FAILED")
		}
	}
	call.Span().AddEvent("payment.settled", trace.WithAttributes(
		attribute.String("order.id", saved.ID),
		attribute.String("payment.id", p.ID),
	))
	return out, nil
}

type CallbackInput struct {
	Gateway  dompayment.Method
	Callback dompayment.Callback
}

// HandleCallback lets the gateway adapter read the order reference from a raw
// callback and then verifies the attempt. The callback is never trusted on its own.
func (o *Orchestrator) HandleCallback(ctx context.Context, in CallbackInput) (_ *VerifyOutput, err error) {
	ctx, call := o.ins.Begin(ctx, useCaseCallback, "HandleCallback",
		attribute.String("payment.gateway", string(in.Gateway)),
	)
	defer func() { call.End(ctx, err) }()

	gw, err := o.registry.Resolve(in.Gateway)
	if err != nil {
		call.Fail("UNKNOWN_GATEWAY")
		return nil, err
	}
	cb, err := gw.HandleCallback(ctx, in.Callback)
	if err != nil {
		call.Fail("CALLBACK_UNREADABLE")
		return nil, err
	}
	if cb.OrderNumber == "" {
		call.Fail("CALLBACK_WITHOUT_ORDER")
		return nil, ErrOrderRequired
	}
	call.With("order_number", cb.OrderNumber)

	return o.VerifyPayment(ctx, VerifyInput{
		OrderRef: cb.OrderNumber,
		Gateway:  in.Gateway,
		Callback: in.Callback,
	})
}

type CODCollectedInput struct {
	OrderRef string
	ActorID  string
}

// MarkCODCollected records cash received for a cash on delivery order. An order
// already paid by delivery whose attempt was never completed gets its attempt completed.
func (o *Orchestrator) MarkCODCollected(ctx context.Context, in CODCollectedInput) (_ *domorder.Order, err error) {
	ctx, call := o.ins.Begin(ctx, useCaseCODCollected, "MarkCODCollected",
		attribute.String("order.ref", in.OrderRef),
	)
	defer func() { call.End(ctx, err) }()

	order, err := o.loadOrder(ctx, in.OrderRef)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	now := o.now()
	ch, err := order.MarkCODCollected(in.ActorID, now)
	if errors.Is(err, domorder.ErrAlreadyPaid) {
		p, lerr := o.payments.Latest(ctx, order.ID, dompayment.MethodCOD)
		if lerr == nil && p.Status == dompayment.StatusCompleted {
			call.Fail("COD_ALREADY_COLLECTED")
			return nil, err
		}
		if lerr != nil && !errors.Is(lerr, dompayment.ErrNotFound) {
			call.Fail("PAYMENT_LOOKUP_FAILED")
			return nil, lerr
		}
		p, err = o.completeCOD(ctx, order, now)
		if err != nil {
			call.Fail("PAYMENT_SAVE_FAILED")
			return nil, err
		}
		call.Status("COD_ATTEMPT_COMPLETED")
		call.With("payment_id", p.ID)
		return order, nil
	}
	if err != nil {
		call.Fail("COD_COLLECTION_REJECTED")
		return nil, err
	}
	saved, err := o.orders.Save(ctx, ch)
	if err != nil {
		call.Fail("ORDER_SAVE_FAILED")
		return nil, err
	}

	p, err := o.completeCOD(ctx, saved, now)
	if err != nil {
		call.Fail("PAYMENT_SAVE_FAILED")
		return nil, err
	}
	call.With("payment_id", p.ID)
	return saved, nil
}

// RecordCODSettlement completes the cash on delivery attempt of an order that
// delivery has already marked paid. Calling it again is a no-op.
func (o *Orchestrator) RecordCODSettlement(ctx context.Context, order *domorder.Order) (err error) {
	ctx, call := o.ins.Begin(ctx, useCaseCODSettled, "RecordCODSettlement",
		attribute.String("order.id", order.ID),
	)
	defer func() { call.End(ctx, err) }()

	if order.Payment.Method != dompayment.MethodCOD {
		call.Fail("NOT_COD")
		return fmt.Errorf("order %s pays by %s: %w", order.Number, order.Payment.Method, domorder.ErrNotCOD)
	}
	if order.Payment.Status != domorder.PaymentPaid {
		call.Fail("ORDER_NOT_PAID")
		return fmt.Errorf("order %s payment is %s: %w", order.Number, order.Payment.Status, ErrCODNotCollected)
	}
	p, err := o.completeCOD(ctx, order, o.now())
	if err != nil {
		call.Fail("PAYMENT_SAVE_FAILED")
		return err
	}
	call.With("payment_id", p.ID)
	return nil
}

// completeCOD completes the order's latest cash on delivery attempt, creating one when none exists.
func (o *Orchestrator) completeCOD(ctx context.Context, order *domorder.Order, now time.Time) (*dompayment.Payment, error) {
	ref := "COD-" + order.Number
	p, err := o.payments.Latest(ctx, order.ID, dompayment.MethodCOD)
	insert := false
	switch {
	case errors.Is(err, dompayment.ErrNotFound):
		p = dompayment.New(o.ids.NewID(), order.ID, order.UserID, dompayment.MethodCOD, order.Pricing.Total, now)
		p.MarkPending(ref, nil, now)
		insert = true
	case err != nil:
		return nil, fmt.Errorf("payment: load cod attempt: %w", err)
	case p.Status == dompayment.StatusCompleted:
		return p, nil
	}
	if p.Response.TransactionID == "" {
		p.Response.TransactionID = ref
	}
	if err := p.MarkCompleted(ref, nil, now); err != nil {
		if errors.Is(err, dompayment.ErrAlreadySettled) {
			return p, nil
		}
		return nil, err
	}
	if insert {
		err = o.payments.Insert(ctx, p)
	} else {
		err = o.payments.Update(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("payment: record cod collection: %w", err)
	}
	return p, nil
}

type RefundInput struct {
	OrderRef string
	Gateway  dompayment.Method
}

// RefundPayment asks the gateway to refund the latest completed attempt.
func (o *Orchestrator) RefundPayment(ctx context.Context, in RefundInput) (_ *dompayment.RefundResult, err error) {
	ctx, call := o.ins.Begin(ctx, useCaseRefund, "RefundPayment",
		attribute.String("order.ref", in.OrderRef),
		attribute.String("payment.gateway", string(in.Gateway)),
	)
	defer func() { call.End(ctx, err) }()

	gw, err := o.registry.Resolve(in.Gateway)
	if err != nil {
		call.Fail("UNKNOWN_GATEWAY")
		return nil, err
	}
	order, err := o.loadOrder(ctx, in.OrderRef)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	p, err := o.payments.Latest(ctx, order.ID, in.Gateway)
	if err != nil {
		call.Fail("PAYMENT_RECORD_NOT_FOUND")
		return nil, err
	}
	if p.Status != dompayment.StatusCompleted {
		call.Fail("NOTHING_TO_REFUND")
		return nil, fmt.Errorf("payment %s is %s: %w", p.ID, p.Status, ErrNothingToRefund)
	}

	res, err := gw.Refund(ctx, dompayment.RefundRequest{
		TransactionID: p.Response.TransactionID,
		ReferenceID:   p.Response.ReferenceID,
		Amount:        p.Amount,
	})
	if err != nil {
		call.Fail("GATEWAY_REFUND_FAILED")
		return nil, err
	}
	if !res.Supported {
		call.Fail("REFUND_UNSUPPORTED")
		return res, fmt.Errorf("%s: %w", res.Reason, dompayment.ErrRefundUnsupported)
	}
	return res, nil
}

// ListPayments returns every attempt for the order, oldest first.
func (o *Orchestrator) ListPayments(ctx context.Context, orderRef string) ([]*dompayment.Payment, error) {
	order, err := o.loadOrder(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	return o.payments.ListByOrder(ctx, order.ID)
}

func (o *Orchestrator) loadOrder(ctx context.Context, ref string) (*domorder.Order, error) {
	if ref == "" {
		return nil, ErrOrderRequired
	}
	if domorder.ValidNumber(ref) {
		return o.orders.GetByNumber(ctx, ref)
	}
	return o.orders.Get(ctx, ref)
}
