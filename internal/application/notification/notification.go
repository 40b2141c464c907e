package notification

import (
	"context"
	"fmt"

	domorder "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
)

// Audience decides who a notification is for.
type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceAdmin    Audience = "admin"
)

// Notification is the channel-neutral message handed to a Notifier.
type Notification struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Audience    Audience          `json:"audience"`
	UserID      string            `json:"userId,omitempty"`
	OrderID     string            `json:"orderId"`
	OrderNumber string            `json:"orderNumber"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
}

// Notifier delivers notifications to a sink (log, Kafka, push).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FromEvent renders the order events the worker subscribes to. ok is false for anything else.
func FromEvent(e domoutbox.Event) (n Notification, ok bool) {
	switch evt := e.(type) {
	case domorder.OrderPlacedEvent:
		return Notification{
			Kind:        evt.EventName(),
			Audience:    AudienceCustomer,
			UserID:      evt.UserID,
			OrderID:     evt.OrderID,
			OrderNumber: evt.Number,
			Title:       "Order placed",
			Message:     fmt.Sprintf("Your order %s has been placed. Total: NPR %s", evt.Number, evt.Total.StringFixed(2)),
			Data: map[string]string{
				"paymentMethod": evt.PaymentMethod,
				"itemCount":     fmt.Sprint(evt.ItemCount),
			},
		}, true
	case domorder.NewOrderAdminEvent:
		return Notification{
			Kind:        evt.EventName(),
			Audience:    AudienceAdmin,
			OrderID:     evt.OrderID,
			OrderNumber: evt.Number,
			Title:       "New order received",
			Message:     fmt.Sprintf("Order %s for NPR %s needs processing", evt.Number, evt.Total.StringFixed(2)),
			Data:        map[string]string{"customerId": evt.CustomerID},
		}, true
	case domorder.OrderStatusChangedEvent:
		msg := fmt.Sprintf("Your order %s is now %s", evt.Number, evt.To)
		if evt.Note != "" {
			msg += ": " + evt.Note
		}
		return Notification{
			Kind:        evt.EventName(),
			Audience:    AudienceCustomer,
			UserID:      evt.UserID,
			OrderID:     evt.OrderID,
			OrderNumber: evt.Number,
			Title:       "Order " + string(evt.To),
			Message:     msg,
			Data: map[string]string{
				"from": string(evt.From),
				"to":   string(evt.To),
			},
		}, true
	}
	return Notification{}, false
}
