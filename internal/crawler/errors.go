package crawler

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by JobStore implementations for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobExists is returned when creating a job whose ID is already stored.
var ErrJobExists = errors.New("job already exists")

// ErrQueueClosed is returned by Queue implementations once they are shut down.
var ErrQueueClosed = errors.New("queue closed")

// FetchError reports a transient failure to retrieve a single URL: a timeout,
// a refused connection, or a non-2xx response. Callers decide whether it is fatal.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

// NewFetchError wraps cause for url. A cause that is already a *FetchError is
// returned unchanged.
func NewFetchError(url string, statusCode int, cause error) *FetchError {
	var fe *FetchError
	if errors.As(cause, &fe) {
		return fe
	}
	return &FetchError{URL: url, StatusCode: statusCode, Cause: cause}
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// IsFetchError reports whether err carries a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
