package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Every error below matches exactly one of them with
// errors.Is, so transport code can switch on the category alone.
var (
	ErrAuth       = errors.New("unauthorized")
	ErrConflict   = errors.New("conflict")
	ErrConfig     = errors.New("configuration error")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrInvalidCredentials = newKind(ErrAuth, "invalid email or password")
	ErrExpiredToken       = newKind(ErrAuth, "token expired")
	ErrInvalidToken       = newKind(ErrAuth, "invalid token")
	ErrSessionRevoked     = newKind(ErrAuth, "session expired or invalid")
	ErrSessionExpired     = newKind(ErrAuth, "session expired")

	ErrEmailExists = newKind(ErrConflict, "email already exists")

	ErrMissingRoleSeed   = newKind(ErrConfig, "owner role not found")
	ErrMalformedDuration = newKind(ErrConfig, "malformed duration")

	ErrUserNotFound    = newKind(ErrNotFound, "user not found")
	ErrSessionNotFound = newKind(ErrNotFound, "session not found")
)

// ValidationError reports a rejected input field. The message is safe to
// return to the caller as is.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
