// Package capability defines the port for invoking external capability
// services (trend lookup, content generation, engagement actions) and a
// registry of invokers keyed by task type.
package capability

import (
	"context"
	"errors"

	"github.com/chimera-factory/chimera/internal/domain/task"
)

// Invoker executes one external capability call for a task and returns
// the produced result with a self-reported confidence score in [0,1].
// Implementations are collaborators: their internals are opaque to the
// core.
type Invoker interface {
	// Type returns the task type this invoker serves.
	Type() task.Type

	// Invoke performs the external call. Context cancellation bounds the
	// call; timeouts and 5xx responses surface as transient errors.
	Invoke(ctx context.Context, t *task.Task) (*task.Result, error)
}

// TransientError marks a capability failure that is worth retrying
// (timeout, 5xx, connection refused). Non-transient errors are permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient capability error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a retryable capability failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
