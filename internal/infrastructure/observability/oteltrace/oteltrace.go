// Package oteltrace adapts the global OpenTelemetry tracer provider to the Tracer port.
package oteltrace

import (
	"context"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct {
	t      trace.Tracer
	common []attribute.KeyValue
}

// New returns a tracer scoped to the service. common attributes (environment,
// region) are stamped on every span it starts.
func New(service, version string, common ...attribute.KeyValue) observability.Tracer {
	if service == "" {
		service = "bivan"
	}
	return &tracer{
		t:      otel.Tracer(service, trace.WithInstrumentationVersion(version)),
		common: common,
	}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(t.common)+len(attrs))
	all = append(all, t.common...)
	all = append(all, attrs...)
	return t.t.Start(ctx, name, trace.WithAttributes(all...))
}
