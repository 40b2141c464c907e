package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/application/notification"
	"github.com/segmentio/kafka-go"
)

var ErrDisabled = errors.New("kafka: no brokers configured")

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written for every notification.
type Envelope struct {
	EventID    string                    `json:"event_id"`
	Type       string                    `json:"type"`
	OccurredAt time.Time                 `json:"occurred_at"`
	Payload    notification.Notification `json:"payload"`
}

// Notifier publishes notifications to a topic keyed by order number, so every
// message about one order lands on the same partition.
type Notifier struct {
	w   MessageWriter
	now func() time.Time
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewNotifier(brokers []string, topic string) (*Notifier, error) {
	if len(brokers) == 0 {
		return nil, ErrDisabled
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	return NewNotifierWithWriter(NewWriter(brokers, topic)), nil
}

func NewNotifierWithWriter(w MessageWriter) *Notifier {
	return &Notifier{w: w, now: func() time.Time { return time.Now().UTC() }}
}

func (n *Notifier) Notify(ctx context.Context, msg notification.Notification) error {
	value, err := json.Marshal(Envelope{
		EventID:    msg.ID,
		Type:       msg.Kind,
		OccurredAt: n.now(),
		Payload:    msg,
	})
	if err != nil {
		return fmt.Errorf("kafka: encode %s: %w", msg.Kind, err)
	}
	err = n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.OrderNumber),
		Value: value,
		Time:  n.now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Kind)},
			{Key: "audience", Value: []byte(msg.Audience)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka: write %s: %w", msg.Kind, err)
	}
	return nil
}

func (n *Notifier) Close() error { return n.w.Close() }
