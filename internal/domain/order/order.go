package order

import (
	"fmt"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = apperr.New(apperr.NotFound, "order: not found")
	ErrConflict          = apperr.New(apperr.Conflict, "order: modified concurrently")
	ErrDuplicateNumber   = apperr.New(apperr.Conflict, "order: number already taken")
	ErrEmptyItems        = apperr.New(apperr.Validation, "order: at least one item is required")
	ErrInvalidItem       = apperr.New(apperr.Validation, "order: invalid item")
	ErrInvalidOrder      = apperr.New(apperr.Validation, "order: invalid order")
	ErrUnknownStatus     = apperr.New(apperr.Validation, "order: unknown status")
	ErrInvalidTransition = apperr.New(apperr.Conflict, "order: status transition not allowed")
	ErrNotCancellable    = apperr.New(apperr.BusinessRule, "order: cannot be cancelled in its current status")
	ErrAlreadyPaid       = apperr.New(apperr.BusinessRule, "order: already paid")
	ErrOrderCancelled    = apperr.New(apperr.Conflict, "order: cancelled")
	ErrNotCOD            = apperr.New(apperr.BusinessRule, "order: not a cash on delivery order")
)

// PaymentStatus is the order's own view of settlement, independent of individual attempts.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

const actorSystem = "system"

type Address struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Province string `json:"province"`
	District string `json:"district"`
	City     string `json:"city"`
	Street   string `json:"street"`
	Landmark string `json:"landmark,omitempty"`
}

// Item is a frozen snapshot of what was bought. Its price never follows the live catalog.
type Item struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type PaymentInfo struct {
	Method        payment.Method `json:"method"`
	Status        PaymentStatus  `json:"status"`
	TransactionID string         `json:"transactionId,omitempty"`
	PaidAt        *time.Time     `json:"paidAt,omitempty"`
}

type Pricing struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Discount     decimal.Decimal `json:"discount"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
}

// Balanced reports whether total = subtotal + shipping - discount + tax.
func (p Pricing) Balanced() bool {
	return p.Total.Equal(p.Subtotal.Add(p.ShippingCost).Sub(p.Discount).Add(p.Tax))
}

type StatusEntry struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	ChangedBy string    `json:"changedBy"`
	Note      string    `json:"note,omitempty"`
}

// Order is an immutable value: every operation returns a Change holding the next value.
type Order struct {
	ID                 string
	Number             string
	UserID             string
	Items              []Item
	ShippingAddress    Address
	Payment            PaymentInfo
	Pricing            Pricing
	Status             Status
	StatusHistory      []StatusEntry
	Notes              string
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Change is the unit a repository commits: the next order value plus the stock
// movements that must land with it.
type Change struct {
	Order Order
	From  Status
	Stock []inventory.Adjustment
}

// StatusChanged reports whether the change moved the order to another status.
func (c Change) StatusChanged() bool { return c.From != c.Order.Status }

type Params struct {
	ID              string
	Number          string
	UserID          string
	Items           []Item
	ShippingAddress Address
	PaymentMethod   payment.Method
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	Notes           string
	At              time.Time
}

// New prices a pending order and returns it together with the stock it reserves.
func New(p Params) (Change, error) {
	switch {
	case p.ID == "" || p.Number == "":
		return Change{}, fmt.Errorf("id and number are required: %w", ErrInvalidOrder)
	case p.UserID == "":
		return Change{}, fmt.Errorf("user is required: %w", ErrInvalidOrder)
	case !p.PaymentMethod.Valid():
		return Change{}, fmt.Errorf("payment method %q: %w", p.PaymentMethod, ErrInvalidOrder)
	case len(p.Items) == 0:
		return Change{}, ErrEmptyItems
	case p.Discount.IsNegative() || p.Tax.IsNegative():
		return Change{}, fmt.Errorf("discount and tax must not be negative: %w", ErrInvalidOrder)
	}

	items := make([]Item, len(p.Items))
	subtotal := decimal.Zero
	for i, it := range p.Items {
		if it.ProductID == "" || it.Quantity <= 0 || it.Price.IsNegative() {
			return Change{}, fmt.Errorf("item %d: %w", i, ErrInvalidItem)
		}
		it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(it.Subtotal)
		items[i] = it
	}

	shipping := ShippingCost(p.ShippingAddress, subtotal)
	pricing := Pricing{
		Subtotal:     subtotal,
		ShippingCost: shipping,
		Discount:     p.Discount,
		Tax:          p.Tax,
		Total:        subtotal.Add(shipping).Sub(p.Discount).Add(p.Tax),
	}
	if pricing.Total.IsNegative() {
		return Change{}, fmt.Errorf("discount exceeds order value: %w", ErrInvalidOrder)
	}

	o := Order{
		ID:              p.ID,
		Number:          p.Number,
		UserID:          p.UserID,
		Items:           items,
		ShippingAddress: p.ShippingAddress,
		Payment:         PaymentInfo{Method: p.PaymentMethod, Status: PaymentPending},
		Pricing:         pricing,
		Status:          StatusPending,
		StatusHistory: []StatusEntry{{
			Status:    StatusPending,
			ChangedAt: p.At,
			ChangedBy: p.UserID,
			Note:      "Order placed",
		}},
		Notes:     p.Notes,
		CreatedAt: p.At,
		UpdatedAt: p.At,
	}
	return Change{Order: o, From: StatusPending, Stock: o.Reservation()}, nil
}

// Reservation lists the stock this order takes out of the ledger.
func (o Order) Reservation() []inventory.Adjustment {
	out := make([]inventory.Adjustment, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Reserve(it.ProductID, it.VariantID, it.Quantity))
	}
	return out
}

func (o Order) restoration() []inventory.Adjustment {
	out := make([]inventory.Adjustment, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Restore(it.ProductID, it.VariantID, it.Quantity))
	}
	return out
}

// Transition moves the order to `to` through the transition table.
// Entering cancelled restores stock; entering delivered settles cash on delivery.
func (o Order) Transition(to Status, actor, note string, at time.Time) (Change, error) {
	if !CanTransition(o.Status, to) {
		return Change{}, fmt.Errorf("%s -> %s: %w", o.Status, to, ErrInvalidTransition)
	}
	next := o.Clone()
	next.Status = to
	next.StatusHistory = append(next.StatusHistory, StatusEntry{
		Status:    to,
		ChangedAt: at,
		ChangedBy: actor,
		Note:      note,
	})
	next.UpdatedAt = at

	var stock []inventory.Adjustment
	switch to {
	case StatusDelivered:
		next.DeliveredAt = &at
		if next.Payment.Method == payment.MethodCOD && next.Payment.Status != PaymentPaid {
			next.Payment.Status = PaymentPaid
			next.Payment.PaidAt = &at
		}
	case StatusCancelled:
		next.CancelledAt = &at
		next.CancellationReason = note
		stock = o.restoration()
	}
	return Change{Order: next, From: o.Status, Stock: stock}, nil
}

// Cancel is the customer-facing cancellation, only allowed before processing starts.
func (o Order) Cancel(actor, reason string, at time.Time) (Change, error) {
	if !o.Status.Cancellable() {
		return Change{}, fmt.Errorf("order %s is %s: %w", o.Number, o.Status, ErrNotCancellable)
	}
	return o.Transition(StatusCancelled, actor, reason, at)
}

// MarkPaymentComplete records a verified gateway settlement. A pending order is
// confirmed through the transition table in the same change.
func (o Order) MarkPaymentComplete(transactionID string, at time.Time) (Change, error) {
	switch {
	case o.Status == StatusCancelled:
		return Change{}, fmt.Errorf("order %s: %w", o.Number, ErrOrderCancelled)
	case o.Payment.Status == PaymentPaid:
		return Change{}, fmt.Errorf("order %s: %w", o.Number, ErrAlreadyPaid)
	}

	next := o.Clone()
	next.Payment.Status = PaymentPaid
	next.Payment.TransactionID = transactionID
	next.Payment.PaidAt = &at
	next.UpdatedAt = at

	if next.Status == StatusPending {
		ch, err := next.Transition(StatusConfirmed, actorSystem, "Payment completed via "+string(o.Payment.Method), at)
		if err != nil {
			return Change{}, err
		}
		ch.From = o.Status
		return ch, nil
	}
	return Change{Order: next, From: o.Status}, nil
}

// MarkPaymentFailed flags the order's payment as failed so the customer can retry.
func (o Order) MarkPaymentFailed(at time.Time) (Change, error) {
	if o.Payment.Status == PaymentPaid {
		return Change{}, fmt.Errorf("order %s: %w", o.Number, ErrAlreadyPaid)
	}
	next := o.Clone()
	next.Payment.Status = PaymentFailed
	next.UpdatedAt = at
	return Change{Order: next, From: o.Status}, nil
}

// MarkCODCollected records cash received for a cash on delivery order without moving its status.
func (o Order) MarkCODCollected(actor string, at time.Time) (Change, error) {
	switch {
	case o.Payment.Method != payment.MethodCOD:
		return Change{}, fmt.Errorf("order %s pays by %s: %w", o.Number, o.Payment.Method, ErrNotCOD)
	case o.Status == StatusCancelled:
		return Change{}, fmt.Errorf("order %s: %w", o.Number, ErrOrderCancelled)
	case o.Payment.Status == PaymentPaid:
		return Change{}, fmt.Errorf("order %s: %w", o.Number, ErrAlreadyPaid)
	}
	next := o.Clone()
	next.Payment.Status = PaymentPaid
	next.Payment.PaidAt = &at
	next.StatusHistory = append(next.StatusHistory, StatusEntry{
		Status:    o.Status,
		ChangedAt: at,
		ChangedBy: actor,
		Note:      "Cash on delivery collected",
	})
	next.UpdatedAt = at
	return Change{Order: next, From: o.Status}, nil
}

// Clone returns a copy that shares no slices or pointers with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]Item(nil), o.Items...)
	c.StatusHistory = append([]StatusEntry(nil), o.StatusHistory...)
	c.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
