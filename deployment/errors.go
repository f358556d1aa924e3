package deployment

import (
	"context"
	"errors"
)

// Fatal errors halt the current step and the run.
var (
	// ErrUnresolvedDependency is returned when a library a unit links against has no deployed
	// address yet.
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	// ErrMissingDependency is returned when a relationship refers to a unit that is not deployed,
	// or when the desired value would be the zero address.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrDeploymentFailed is returned when a deployment transaction reverts.
	ErrDeploymentFailed = errors.New("deployment failed")
	// ErrTransactionReverted is returned when a state-setting transaction reverts.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrRetriesExhausted is returned when a transient error persisted past the retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrPreconditionFailed is returned when a step starts before the units it requires are
	// registered.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// ErrConfirmationTimeout is returned when a submitted transaction is not confirmed within the
// bounded wait. It is transient: re-invoking the step is safe.
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// TransientError marks an error as safe to retry, e.g. an RPC failure.
type TransientError struct {
	Err error
}

// NewTransientError wraps err as a TransientError. A nil err returns nil.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// Error implements the error interface.
func (e *TransientError) Error() string { return e.Err.Error() }

// Unwrap returns the wrapped error.
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed if the same operation is retried. Context
// cancellation is never transient: it is an operator abort. Neither is an exhausted retry budget,
// even though it wraps the last transient cause.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	if errors.Is(err, ErrConfirmationTimeout) {
		return true
	}

	var te *TransientError

	return errors.As(err, &te)
}

// IsFatal reports whether err must halt the run.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err)
}
