package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when the storage backend cannot be
	// reached. Unlike resolution-stage misses, this is fatal to callers.
	ErrUnavailable = errors.New("storage unavailable")
)
