package entityindex

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrEntityNotFound indicates the document is absent from the index, or
	// that no status record survived locale/status filtering. Callers cannot
	// tell the two causes apart.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrBadRequest is the class matched by every request-validation failure.
	ErrBadRequest = errors.New("bad request")

	// ErrPaginationWindow indicates offset+limit exceeds the pagination ceiling.
	ErrPaginationWindow = fmt.Errorf("%w: pagination window exceeds %d", ErrBadRequest, PaginationCeiling)
)

// RequestError reports a malformed request: an unsupported filter, sort or
// status operator, an invalid compound definition, or an unconfigured
// field type. It matches ErrBadRequest through errors.Is.
type RequestError struct {
	Key string
	Err error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad request (%s): %v", e.Key, e.Err)
	}
	return fmt.Sprintf("bad request (%s)", e.Key)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool { return target == ErrBadRequest }

func badRequestf(key, format string, args ...any) error {
	return &RequestError{Key: key, Err: fmt.Errorf(format, args...)}
}

// StoreError wraps a failure from the underlying document store. Store
// failures are not retried and not translated; the raw driver error is
// surfaced via Unwrap.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("document store operation %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
