// Package outbox holds the ports between code that raises events and the
// transport that delivers them after the fact.
package outbox

import "context"

// Event is anything with a stable name, e.g. "order_placed".
type Event interface {
	EventName() string
}

// Handler reacts to one event. An error is logged by the transport and never
// reaches the publisher.
type Handler func(ctx context.Context, e Event) error

// Publisher enqueues an event. It must not wait for handlers to run.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers a handler for one event name.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// Bus is a transport that does both.
type Bus interface {
	Publisher
	Subscriber
}
