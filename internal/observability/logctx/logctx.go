// Package logctx carries the request- or event-scoped logger through a context.
package logctx

import (
	"context"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
)

type loggerKey struct{}

// With returns ctx carrying logger. A nil logger leaves ctx untouched.
func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithFields derives a logger from the one already in ctx (or base) and stores it.
func WithFields(ctx context.Context, base observability.Logger, fields ...observability.Field) context.Context {
	return With(ctx, FromOr(ctx, base).With(fields...))
}

// From returns the logger in ctx, or nil.
func From(ctx context.Context) observability.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey{}).(observability.Logger)
	return logger
}

// FromOr prefers the logger in ctx, then fallback, then a no-op logger.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger := From(ctx); logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return observability.NopLogger()
}
