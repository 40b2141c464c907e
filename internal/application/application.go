package application

import (
	"context"
	"time"

	domoutbox "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/outbox"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

const (
	spanPrefix     = "UC."
	publishPeer    = "outbox"
	publishTimeout = 300 * time.Millisecond
)

// Instruments are the telemetry handles a use case needs. Build them once at wiring time.
type Instruments struct {
	log    observability.Logger
	tracer observability.Tracer

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

// NewInstruments binds the service name into the base logger and resolves the RED instruments.
func NewInstruments(service string, tel observability.Observability) Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return Instruments{
		log:          tel.Logger().With(observability.F("service", service)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

// Logger returns the request-scoped logger if ctx carries one, otherwise the service logger.
func (in Instruments) Logger(ctx context.Context) observability.Logger {
	return logctx.FromOr(ctx, in.log)
}

// Call tracks one use case execution from Begin to End.
type Call struct {
	in      Instruments
	useCase string
	start   time.Time
	span    trace.Span
	log     observability.Logger
	outcome string
	status  string
	fields  []observability.Field
}

// Begin starts the span and prepares the use_case_done log. The returned context
// carries the span and a logger tagged with use_case.
func (in Instruments) Begin(ctx context.Context, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Call) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+spanName, attrs...)

	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	ctx = logctx.With(ctx, logger)

	return ctx, &Call{
		in:      in,
		useCase: useCase,
		start:   time.Now(),
		span:    span,
		log:     logger,
		outcome: "success",
		status:  "OK",
	}
}

// Fail marks the call as failed with a stable, low-cardinality status.
func (c *Call) Fail(status string) { c.outcome, c.status = "error", status }

// Status overrides the status text without changing the outcome.
func (c *Call) Status(status string) { c.status = status }

// With adds a field to the final log line.
func (c *Call) With(key string, value any) {
	c.fields = append(c.fields, observability.F(key, value))
}

func (c *Call) Span() trace.Span { return c.span }

func (c *Call) Logger() observability.Logger { return c.log }

// End records the span status, RED metrics and the use_case_done log.
func (c *Call) End(ctx context.Context, err error) {
	lat := time.Since(c.start).Seconds()
	if err != nil && c.outcome == "success" {
		c.outcome = "error"
		if c.status == "OK" {
			c.status = "FAILED"
		}
	}

	if c.span != nil {
		if err != nil {
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, c.status)
		} else {
			c.span.SetStatus(codes.Ok, c.status)
		}
		c.span.End()
	}

	c.in.reqCounter.Add(1,
		observability.L("use_case", c.useCase),
		observability.L("outcome", c.outcome),
	)
	c.in.durHistogram.Observe(lat,
		observability.L("use_case", c.useCase),
	)

	fields := []observability.Field{
		observability.F("outcome", c.outcome),
		observability.F("status", c.status),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, c.fields...)
	if err != nil {
		fields = append(fields, observability.Err(err))
	}
	c.log.Info("use_case_done", fields...)
}

// External times a call to a peer (gateway, outbox, cache) and records external_* metrics.
func (in Instruments) External(ctx context.Context, peer, endpoint string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)

	outcome := "success"
	switch {
	case err != nil && ctx.Err() != nil:
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	in.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	in.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
	return err
}

// Publish hands events to the outbox without letting a slow or failed publish
// fail the caller. It reports whether every event was enqueued.
func (in Instruments) Publish(ctx context.Context, pub domoutbox.Publisher, events ...domoutbox.Event) bool {
	if pub == nil {
		return true
	}
	ok := true
	for _, e := range events {
		err := in.External(ctx, publishPeer, e.EventName(), func(ctx context.Context) error {
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			defer cancel()
			return pub.Publish(pubCtx, e)
		})
		if err != nil {
			ok = false
			if span := trace.SpanFromContext(ctx); span != nil {
				span.RecordError(err)
			}
			in.Logger(ctx).Warn("event_publish_failed",
				observability.F("event", e.EventName()),
				observability.Err(err),
			)
		}
	}
	return ok
}
