package store

import "errors"

// Sentinel error kinds. Backends wrap these with fmt.Errorf("...: %w", ...)
// so callers can match with errors.Is regardless of backend.
var (
	// ErrNotFound means the named collection does not exist.
	ErrNotFound = errors.New("collection not found")
	// ErrAlreadyExists means a collection with that name is registered.
	ErrAlreadyExists = errors.New("collection already exists")
	// ErrValidation means the input was malformed: dimension mismatch,
	// unsupported filter operator, or a type-mismatched comparison.
	ErrValidation = errors.New("validation failed")
)
