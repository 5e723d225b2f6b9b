// Package storage provides the backing store, file header and shared error
// taxonomy of the obastore object store.
package storage

import (
	"errors"
	"fmt"
)

// Errors shared by the allocator, the indexes and the page stream.
var (
	// ErrKeyNotFound is returned when an index has no entry for a key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrOutOfSpace is returned when a segment has no free run large enough.
	ErrOutOfSpace = errors.New("out of space")

	// ErrUnsupportedOperation is returned for operations a component
	// deliberately does not implement.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidKey is returned when a key encoding violates its limits.
	ErrInvalidKey = errors.New("invalid key")

	// ErrCorrupted is returned when a persistent structure violates one of
	// its invariants. It is never recovered from internally.
	ErrCorrupted = errors.New("corrupted structure")
)

// CorruptionError describes a detected invariant violation.
// It unwraps to ErrCorrupted.
type CorruptionError struct {
	Structure string
	Detail    string
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCorrupted, e.Structure, e.Detail)
}

// Unwrap returns ErrCorrupted.
func (e *CorruptionError) Unwrap() error {
	return ErrCorrupted
}

// Corruptf builds a CorruptionError for the named structure.
func Corruptf(structure, format string, args ...interface{}) error {
	return &CorruptionError{
		Structure: structure,
		Detail:    fmt.Sprintf(format, args...),
	}
}
