package zaplogger

import (
	"errors"
	"testing"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFieldsAreRenderedReadably(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := Wrap(zap.New(core)).With(observability.F("service", "order-service"))

	log.Warn("payment_amount_mismatch",
		observability.F("expected", decimal.RequireFromString("2100.00")),
		observability.F("cause", errors.New("gateway returned 2000")),
		observability.F("attempt", 2),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	got := entries[0].ContextMap()
	if got["service"] != "order-service" || got["expected"] != "2100" || got["cause"] != "gateway returned 2000" {
		t.Fatalf("fields = %v", got)
	}
	if got["attempt"] != int64(2) {
		t.Fatalf("attempt = %#v", got["attempt"])
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("unknown level accepted")
	}
	l, err := New(Options{Level: "WARN"})
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("dropped")
}
