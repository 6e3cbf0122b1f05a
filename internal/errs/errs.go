// Package errs is the error taxonomy shared by the round engine, the treasury
// and the HTTP layer. Messages are terse and safe to show to players.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidPhase Kind = "invalid_phase"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindPersistence  Kind = "persistence"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is; any *Error of the same Kind matches.
var (
	ErrValidation   = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrInvalidPhase = &Error{Kind: KindInvalidPhase, Message: "operation not allowed in this round phase"}
	ErrConflict     = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrPersistence  = &Error{Kind: KindPersistence, Message: "ledger unavailable"}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func InvalidPhase(msg string) error {
	return &Error{Kind: KindInvalidPhase, Message: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Persistence wraps a store failure. The cause is kept for logs but never
// rendered to clients.
func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// KindOf reports the Kind of err, or "" when err is not part of the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PublicMessage returns the message safe to echo back to a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
