package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the service-wide failure taxonomy. Handlers
// map these to transport status codes; callers test with errors.Is.
var (
	// ErrValidation marks malformed or missing input, rejected before
	// any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrPreconditionFailed marks a conditional update whose guard no
	// longer holds (wrong current state or wrong acting actor). Nothing
	// was mutated; safe to retry after a refetch.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound marks an unknown request or vendor.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks an unreachable durable store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func Preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPreconditionFailed}, args...)...)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
