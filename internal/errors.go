package internal

import (
	"errors"
	"fmt"
	"time"
)

var ErrAliasTaken = errors.New("alias already taken")
var ErrLinkNotFound = errors.New("link not found")
var ErrForbidden = errors.New("link belongs to another user")
var ErrExpired = errors.New("link expired")
var ErrUnauthenticated = errors.New("authentication required")

var ErrEmailTaken = errors.New("email already registered")
var ErrUserNotFound = errors.New("user not found")

// ValidationError is a user-facing input problem. Nothing was written.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ExpiredError carries the moment a link stopped resolving.
type ExpiredError struct {
	At time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("link expired at %s", e.At.Format(time.RFC3339))
}

func (e *ExpiredError) Unwrap() error {
	return ErrExpired
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
