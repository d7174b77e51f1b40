package service

import (
	"errors"

	"inventory-service/internal/store"
)

// Errors returned by the services. Store errors share the same sentinels so
// they pass through unchanged and still match with errors.Is.
var (
	ErrInvalidInput      = store.ErrInvalidInput
	ErrNotFound          = store.ErrNotFound
	ErrUnknownProduct    = errors.New("unknown product")
	ErrInsufficientStock = store.ErrInsufficientStock
	ErrConflict          = store.ErrConflict
	ErrDuplicateRequest  = errors.New("request with this idempotency key is already in progress")
)
