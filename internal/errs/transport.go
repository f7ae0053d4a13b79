package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError is a non-success response (or a failed round trip) from
// the remote service.
//
// When the response body carries a service error document
// ({"error": {"code": ..., "message": ..., "innererror": ..., "details": [...]}})
// the parsed fields are populated; Body always holds the raw response.
type TransportError struct {
	// Method and URL of the failed request.
	Method string
	URL    string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Code is the service error code, if the body carried one.
	Code string

	// Message is the service error message, or the HTTP status text.
	Message string

	// DetailedMessage joins inner error and detail messages as "(code): message" lines.
	DetailedMessage string

	// Body is the raw response body.
	Body []byte

	// Err is the underlying cause for failed round trips.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("transport: %s %s: %v", e.Method, e.URL, e.Err)
	case e.Code != "" && e.DetailedMessage != "":
		return fmt.Sprintf("transport: %s %s: %d %s: %s\n%s", e.Method, e.URL, e.StatusCode, e.Code, e.Message, e.DetailedMessage)
	case e.Code != "":
		return fmt.Sprintf("transport: %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("transport: %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConcurrencyError reports that the service rejected a write because the
// entity changed since it was loaded (HTTP 412 Precondition Failed).
type ConcurrencyError struct {
	// EntityURL addresses the rejected entity.
	EntityURL string

	// ETag is the version tag that was sent in If-Match.
	ETag string

	// Err is the transport failure carrying the service response.
	Err *TransportError
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s (etag=%s): %v", e.EntityURL, e.ETag, e.Err)
}

// Unwrap returns the transport failure.
func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConcurrency reports whether err is, or wraps, a *ConcurrencyError.
func IsConcurrency(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// AsConcurrency converts a 412 transport failure into a *ConcurrencyError.
// Other errors are returned unchanged.
func AsConcurrency(err error, entityURL, etag string) error {
	var te *TransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusPreconditionFailed {
		return &ConcurrencyError{EntityURL: entityURL, ETag: etag, Err: te}
	}
	return err
}
