package app

import (
	"errors"
	"fmt"
)

// Kind classifies application errors so the HTTP boundary can map them
// to statuses without string matching.
type Kind int

const (
	// KindValidation covers malformed or policy-violating input,
	// including storage-detected duplicates. Recoverable by the caller.
	KindValidation Kind = iota
	// KindNotFound means a referenced entity does not exist.
	KindNotFound
	// KindInvalidCredential means a confirmation code did not match.
	KindInvalidCredential
	// KindForbidden means the actor is known but lacks permission.
	KindForbidden
)

// Error is the application error carried across the core boundary.
// Field is set for validation failures that concern a single input.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Msg
	}
	return e.Msg
}

// KindOf returns the kind of an application error. ok is false for
// foreign errors, which callers should treat as internal.
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return KindValidation, false
}

func validationErr(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func notFoundErr(what string) *Error {
	return &Error{Kind: KindNotFound, Msg: what + " not found"}
}

func invalidCredentialErr(msg string) *Error {
	return &Error{Kind: KindInvalidCredential, Msg: msg}
}
