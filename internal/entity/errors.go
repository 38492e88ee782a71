package entity

import "errors"

var (
	// ErrNotFound is returned when no record has the requested key.
	ErrNotFound = errors.New("entity: not found")

	// ErrInvalidRecord is returned when a record is missing its key or kind.
	ErrInvalidRecord = errors.New("entity: invalid record")
)
