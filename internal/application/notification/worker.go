package notification

import (
	"context"
	"time"

	domorder "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	workerService = "notification-worker"
	spanPrefix    = "Worker."

	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

type IDGenerator interface {
	NewID() string
}

// Worker turns order events into notifications. Delivery is retried a bounded
// number of times and a final failure is logged, never propagated to the publisher.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier
	ids        IDGenerator
	tel        observability.Observability
	attempts   int
	backoff    time.Duration

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	delivered    observability.Counter   // notifications_delivered_total{kind,outcome}
}

type Option func(*Worker)

// WithRetry sets how many delivery attempts are made and the base delay between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff >= 0 {
			w.backoff = backoff
		}
	}
}

func NewWorker(subscriber domoutbox.Subscriber, notifier Notifier, ids IDGenerator, tel observability.Observability, opts ...Option) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	w := &Worker{
		subscriber:   subscriber,
		notifier:     notifier,
		ids:          ids,
		tel:          tel,
		attempts:     defaultAttempts,
		backoff:      defaultBackoff,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		delivered:    m.Counter(observability.MNotificationsDelivered),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	for _, name := range []string{
		domorder.EventOrderPlaced,
		domorder.EventNewOrderAdmin,
		domorder.EventOrderStatusChanged,
	} {
		w.subscriber.Subscribe(name, w.handle)
	}
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	useCase := "notification." + e.EventName()
	n, ok := FromEvent(e)
	if !ok {
		w.count(useCase, "ignored")
		return nil
	}
	if w.ids != nil {
		n.ID = w.ids.NewID()
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+"Notify",
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
		attribute.String("order.id", n.OrderID),
	)
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCase),
		observability.F("notification_id", n.ID),
		observability.F("audience", string(n.Audience)),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	start := time.Now()
	outcome, status := "success", "OK"
	attempt := 0
	defer func() {
		lat := time.Since(start).Seconds()
		w.count(useCase, outcome)
		w.durHistogram.Observe(lat, observability.L("use_case", useCase))
		w.delivered.Add(1,
			observability.L("kind", n.Kind),
			observability.L("outcome", outcome),
		)
		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("attempts", attempt),
			observability.F("latency_seconds", lat),
		)
		if outcome == "error" {
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	var err error
	for attempt = 1; attempt <= w.attempts; attempt++ {
		if err = w.notifier.Notify(ctx, n); err == nil {
			return nil
		}
		span.RecordError(err)
		logger.Warn("notification_attempt_failed",
			observability.F("attempt", attempt),
			observability.Err(err),
		)
		if attempt == w.attempts {
			break
		}
		select {
		case <-time.After(w.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			outcome, status = "error", "CONTEXT_DONE"
			return nil
		}
	}
	outcome, status = "error", "DELIVERY_FAILED"
	logger.Error("notification_dropped", observability.Err(err))
	return nil
}

func (w *Worker) count(useCase, outcome string) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}
