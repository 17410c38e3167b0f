package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrRateLimited         = errors.New("rate limited")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrConflictingStatus   = errors.New("conflicting payment status")
	ErrDuplicateReference  = errors.New("duplicate payment reference")
	ErrVersionConflict     = errors.New("config version conflict")
	ErrConcurrentUpdate    = errors.New("concurrent update")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
