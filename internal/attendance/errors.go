package attendance

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures of the attendance core.
type Kind string

const (
	KindValidation Kind = "validation"
	KindDuplicate  Kind = "duplicate"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindStorage    Kind = "storage"
	KindIntegrity  Kind = "integrity"
)

// Error is a classified failure. Msg is safe to show to users.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == ""
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrState      = &Error{Kind: KindState}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrIntegrity  = &Error{Kind: KindIntegrity}
)

func validationErr(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }
func duplicateErr(msg string) error  { return &Error{Kind: KindDuplicate, Msg: msg} }
func notFoundErr(msg string) error   { return &Error{Kind: KindNotFound, Msg: msg} }
func stateErr(msg string) error      { return &Error{Kind: KindState, Msg: msg} }

// storageErr wraps a backend failure. Errors that are already classified pass through.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindStorage, Msg: op + ": store timed out", Err: err}
	}
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFault reports whether err must escape the service boundary instead of
// being turned into a {success:false} result.
func IsFault(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindDuplicate, KindNotFound, KindState:
		return false
	default:
		return err != nil
	}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprint(err)
}
