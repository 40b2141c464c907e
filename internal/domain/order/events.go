package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "order_placed"
	EventOrderStatusChanged = "order_status_changed"
	EventNewOrderAdmin      = "new_order_admin"
)

// OrderPlacedEvent tells the customer their order was received.
type OrderPlacedEvent struct {
	OrderID       string
	Number        string
	UserID        string
	Total         decimal.Decimal
	PaymentMethod string
	ItemCount     int
	OccurredAt    time.Time
}

func (OrderPlacedEvent) EventName() string { return EventOrderPlaced }

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:       o.ID,
		Number:        o.Number,
		UserID:        o.UserID,
		Total:         o.Pricing.Total,
		PaymentMethod: string(o.Payment.Method),
		ItemCount:     len(o.Items),
		OccurredAt:    time.Now().UTC(),
	}
}

// NewOrderAdminEvent alerts staff that an order needs handling.
type NewOrderAdminEvent struct {
	OrderID    string
	Number     string
	CustomerID string
	Total      decimal.Decimal
	OccurredAt time.Time
}

func (NewOrderAdminEvent) EventName() string { return EventNewOrderAdmin }

func NewNewOrderAdminEvent(o *Order) NewOrderAdminEvent {
	return NewOrderAdminEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		CustomerID: o.UserID,
		Total:      o.Pricing.Total,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderStatusChangedEvent is emitted after a committed status transition.
type OrderStatusChangedEvent struct {
	OrderID    string
	Number     string
	UserID     string
	From       Status
	To         Status
	Note       string
	OccurredAt time.Time
}

func (OrderStatusChangedEvent) EventName() string { return EventOrderStatusChanged }

func NewOrderStatusChangedEvent(from Status, o *Order) OrderStatusChangedEvent {
	var note string
	if n := len(o.StatusHistory); n > 0 {
		note = o.StatusHistory[n-1].Note
	}
	return OrderStatusChangedEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		From:       from,
		To:         o.Status,
		Note:       note,
		OccurredAt: time.Now().UTC(),
	}
}
