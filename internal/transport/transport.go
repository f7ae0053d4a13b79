// Package transport carries requests to the remote service.
//
// The core only depends on the Transport interface. HTTP is the net/http
// implementation used by the service and the CLI; tests use the recording
// fake in package testutil.
package transport

import "context"

// Transport performs JSON requests against absolute URLs.
//
// Non-2xx responses are returned as *errs.TransportError carrying the
// status and body. Implementations do not retry.
type Transport interface {
	// Get fetches url and returns the response body.
	Get(ctx context.Context, url string) ([]byte, error)

	// Post sends body and returns the response body, which may be empty.
	Post(ctx context.Context, url string, body []byte) ([]byte, error)

	// Patch sends a partial update. A non-empty etag is sent as If-Match.
	Patch(ctx context.Context, url string, body []byte, etag string) ([]byte, error)

	// Delete removes the resource at url. A non-empty etag is sent as If-Match.
	Delete(ctx context.Context, url string, etag string) error
}

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
