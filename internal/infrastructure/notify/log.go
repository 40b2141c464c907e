package notify

import (
	"context"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/application/notification"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability/logctx"
)

// LogNotifier writes notifications to the structured log. It is the default sink
// when no broker is configured.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(tel observability.Observability) *LogNotifier {
	if tel == nil {
		tel = observability.Nop()
	}
	return &LogNotifier{log: tel.Logger().With(observability.F("component", "notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, msg notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logctx.FromOr(ctx, n.log).Info("notification_sent",
		observability.F("kind", msg.Kind),
		observability.F("audience", string(msg.Audience)),
		observability.F("user_id", msg.UserID),
		observability.F("order_number", msg.OrderNumber),
		observability.F("title", msg.Title),
		observability.F("message", msg.Message),
	)
	return nil
}

// Fanout delivers to every sink and reports the first failure after trying all of them.
type Fanout []notification.Notifier

func (f Fanout) Notify(ctx context.Context, msg notification.Notification) error {
	var first error
	for _, n := range f {
		if err := n.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
