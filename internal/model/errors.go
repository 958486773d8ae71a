package model

import (
	"errors"
	"strings"
)

// Error taxonomy shared by every component. Callers wrap these with context
// and the transport layer maps them with errors.Is.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// Reason returns the outermost message of a wrapped error, the part a
// client is allowed to see.
func Reason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i > 0 {
		return msg[:i]
	}
	return msg
}
