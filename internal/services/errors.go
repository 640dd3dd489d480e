package services

import (
	"errors"
	"fmt"
)

// Sentinel kinds returned by the service layer. Handlers map them onto HTTP statuses.
var (
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDispatchFailed      = errors.New("dispatch failed")
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrFederationFailed    = errors.New("federation failed")
)

// Error pairs a sentinel kind with a message that is safe to show clients.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message returns the client-safe message carried by err, or fallback.
func Message(err error, fallback string) string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	return fallback
}
