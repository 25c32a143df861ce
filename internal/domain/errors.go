// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrDecided indicates an approval has already received its one decision.
var ErrDecided = errors.New("approval already decided")

// ErrValidation indicates the request was malformed or failed domain validation.
var ErrValidation = errors.New("validation failed")
