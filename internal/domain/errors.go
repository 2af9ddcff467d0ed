package domain

import "errors"

var (
	// ErrValidation marks request or entity validation failures.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups that matched no record.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks writes rejected by the current record state.
	ErrConflict = errors.New("conflict")
)
