package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus is returned for a status outside the known enumeration
	ErrInvalidStatus = errors.New("invalid payment status")
	// ErrInvalidSettlement is returned for an unknown settlement kind
	ErrInvalidSettlement = errors.New("invalid settlement")
)

// ValidationError reports a request field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
