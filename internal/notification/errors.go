package notification

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Concrete errors wrap one of these so callers can classify
// with errors.Is; none of them is ever surfaced to an end user.
var (
	ErrConnection       = errors.New("connection error")
	ErrParse            = errors.New("parse error")
	ErrSourceFetch      = errors.New("source fetch error")
	ErrPersistence      = errors.New("persistence error")
	ErrPermissionDenied = errors.New("permission denied")
)

// Error attaches an operation and subject to one of the sentinel kinds.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error() + ": " + e.Op
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func ParseError(op, subject string, err error) error {
	return &Error{Kind: ErrParse, Op: op, Subject: subject, Err: err}
}

func SourceFetchError(source string, err error) error {
	return &Error{Kind: ErrSourceFetch, Op: "fetch", Subject: source, Err: err}
}

func PersistenceError(op, key string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Subject: key, Err: err}
}

func ConnectionError(op string, err error) error {
	return &Error{Kind: ErrConnection, Op: op, Err: err}
}

// Errorf is a shorthand for a ParseError with a formatted cause.
func Errorf(op, subject, format string, args ...any) error {
	return ParseError(op, subject, fmt.Errorf(format, args...))
}
