package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrPersistence       = errors.New("persistence failure")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyRunning    = errors.New("operation already running")
	ErrSigningFailed     = errors.New("signing failed")
)
