package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEndpoints is returned by New when no endpoint is configured.
	ErrNoEndpoints = errors.New("remote: no endpoints configured")

	// ErrAllSourcesExhausted is returned when every endpoint used up its
	// attempts on network failures. The last NetworkError is wrapped too.
	ErrAllSourcesExhausted = errors.New("remote: all sources exhausted")
)

// NetworkError is a failed attempt: a transport error, a timeout or a non-2xx
// status. It is retried.
type NetworkError struct {
	Endpoint   string
	Attempt    int
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote: %s attempt %d: status %d", e.Endpoint, e.Attempt, e.StatusCode)
	}
	return fmt.Sprintf("remote: %s attempt %d: %v", e.Endpoint, e.Attempt, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is a 2xx response whose body could not be normalized. It is not
// retried.
type ParseError struct {
	Endpoint string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("remote: %s: %v", e.Endpoint, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
