package workerpresentation

import (
	"context"

	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext injects a request-scoped logger for background/worker executions.
// Dynamic fields only: trace_id/span_id (if valid), event_id (generated if empty),
// plus caller-provided low-cardinality attributes (e.g. "event", "queue").
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	fields := make([]observability.Field, 0, 4+len(attrs))

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.WithFields(ctx, base, fields...)
}

// ObservedSubscriber decorates a subscriber so every handler it registers runs
// with an event-scoped logger in its context.
type ObservedSubscriber struct {
	next domoutbox.Subscriber
	base observability.Logger
	// Queue names the transport for the logs, e.g. "outbox".
	Queue string
}

func NewObservedSubscriber(next domoutbox.Subscriber, tel observability.Observability) *ObservedSubscriber {
	if tel == nil {
		tel = observability.Nop()
	}
	return &ObservedSubscriber{next: next, base: tel.Logger(), Queue: "outbox"}
}

func (s *ObservedSubscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		sc := trace.SpanContextFromContext(ctx)
		ctx = WithEventContext(ctx, logctx.FromOr(ctx, s.base), sc.TraceID(), sc.SpanID(), map[string]string{
			"event": e.EventName(),
			"queue": s.Queue,
		})
		return h(ctx, e)
	})
}
