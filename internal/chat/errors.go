package chat

import (
	"errors"
	"fmt"
)

// Code classifies a failed real-time operation.
type Code string

const (
	CodeInvalidPayload     Code = "INVALID_PAYLOAD"
	CodeNotFound           Code = "NOT_FOUND"
	CodeForbidden          Code = "FORBIDDEN"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
)

// Error is returned by Service operations. Reason is safe to show the
// client that caused it.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of a chat error, or "" for anything else.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// ClientMessage returns the text reported to the client for err.
func ClientMessage(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return "Internal error"
}
