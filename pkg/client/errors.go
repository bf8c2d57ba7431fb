package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrInvalidQuery is returned for malformed query parameters. It is
	// never retried: the same parameters would fail again.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrMalformedResponse is returned when the API body does not match
	// the expected envelope. It feeds the retry path like a transport error.
	ErrMalformedResponse = errors.New("malformed API response")
)

// APIError represents a non-2xx response from the DENUE API.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("DENUE %s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
}

// FetchError reports that one (municipality, sector, stratum) lookup
// permanently failed after exhausting its retry budget. It carries the
// combination identity and the last observed cause.
type FetchError struct {
	Municipality string
	Sector       string
	Stratum      int
	Attempts     int
	Err          error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s/%d failed after %d attempts: %v",
		e.Municipality, e.Sector, e.Stratum, e.Attempts, e.Err)
}

// Unwrap exposes the last underlying cause for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrRetryExhausted so callers can test for permanent failure
// without reaching into the struct.
func (e *FetchError) Is(target error) bool {
	return target == ErrRetryExhausted
}
