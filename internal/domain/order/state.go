package order

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// validNext is the only source of truth for status movement.
var validNext = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// Cancellable reports whether a customer cancellation is allowed from s.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// ParseStatus validates a status coming from outside the domain.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := validNext[s]; !ok {
		return "", fmt.Errorf("%q: %w", raw, ErrUnknownStatus)
	}
	return s, nil
}
