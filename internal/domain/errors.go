// Package domain holds the engine's shared domain types and error values.
package domain

import "errors"

var (
	// ErrNotFound signals a missing resource (collection, document, field).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidArgument signals malformed or contradictory request input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict signals a create over an existing document id.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited signals the analytics per-IP rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout signals the search deadline or an embedding call deadline passed.
	ErrTimeout = errors.New("timeout")
	// ErrIncompatibleStoredData signals a schema change rejected by stored documents.
	ErrIncompatibleStoredData = errors.New("incompatible stored data")
	// ErrInternal signals store I/O, JSON parse, or invariant violations.
	ErrInternal = errors.New("internal error")
)
