package payment

import "time"

// IDGenerator issues identifiers for new payment attempts.
type IDGenerator interface {
	NewID() string
}

// Clock is injected so tests can pin settlement times.
type Clock func() time.Time
