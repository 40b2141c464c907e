// Package apperr classifies failures so transports can map them without
// knowing every domain sentinel.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the coarse class of a failure. A Kind is itself an error so that
// errors.Is(err, apperr.Conflict) works for any error of that class.
type Kind string

const (
	Validation      Kind = "validation"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	ExternalGateway Kind = "external_gateway"
	BusinessRule    Kind = "business_rule"
)

func (k Kind) Error() string { return string(k) }

// Error is a classified error. Sentinels are built with New and compared by identity;
// wrapped variants keep their kind.
type Error struct {
	kind Kind
	msg  string
	err  error
}

// New returns a classified sentinel.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap classifies err under kind with an extra message.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Errorf builds a classified error with a formatted message. %w verbs are honoured.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.err == nil:
		return e.msg
	case e.msg == "":
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// Kind reports the class of the error.
func (e *Error) Kind() Kind { return e.kind }

// Is matches the error's Kind in addition to identity.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.kind == k
	}
	return false
}

// KindOf walks the chain and returns the first Kind found, or "" when unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}
