package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/roach88/odatalink/internal/errs"
)

// Request is one call recorded by FakeTransport.
type Request struct {
	Method string
	URL    string
	Body   []byte
	ETag   string
}

type response struct {
	body []byte
	err  error
}

// FakeTransport is an in-memory transport that replays canned responses
// and records every request.
//
// Responses are queued per (method, URL). When only one response is left
// in a queue it is replayed for every further matching request. A request
// with no queued response fails with a 404 TransportError.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeTransport struct {
	mu        sync.Mutex
	responses map[string][]response
	requests  []Request
}

// NewFakeTransport creates an empty fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{responses: make(map[string][]response)}
}

func key(method, url string) string {
	return method + " " + url
}

// On queues a successful response body for method and url.
func (f *FakeTransport) On(method, url, body string) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(method, url)
	f.responses[k] = append(f.responses[k], response{body: []byte(body)})
	return f
}

// OnStatus queues a failure with the given HTTP status and body.
func (f *FakeTransport) OnStatus(method, url string, status int, body string) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(method, url)
	f.responses[k] = append(f.responses[k], response{err: &errs.TransportError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Message:    http.StatusText(status),
		Body:       []byte(body),
	}})
	return f
}

// Requests returns a copy of the recorded requests in call order.
func (f *FakeTransport) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Count returns how many requests were recorded.
func (f *FakeTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Reset forgets recorded requests but keeps queued responses.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = nil
}

func (f *FakeTransport) do(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	k := key(req.Method, req.URL)
	queue := f.responses[k]
	if len(queue) == 0 {
		return nil, &errs.TransportError{
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("no fake response for %s", k),
		}
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[k] = queue[1:]
	}
	return resp.body, resp.err
}

// Get implements the transport Get operation.
func (f *FakeTransport) Get(ctx context.Context, url string) ([]byte, error) {
	return f.do(ctx, Request{Method: http.MethodGet, URL: url})
}

// Post implements the transport Post operation.
func (f *FakeTransport) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	return f.do(ctx, Request{Method: http.MethodPost, URL: url, Body: body})
}

// Patch implements the transport Patch operation.
func (f *FakeTransport) Patch(ctx context.Context, url string, body []byte, etag string) ([]byte, error) {
	return f.do(ctx, Request{Method: http.MethodPatch, URL: url, Body: body, ETag: etag})
}

// Delete implements the transport Delete operation.
func (f *FakeTransport) Delete(ctx context.Context, url string, etag string) error {
	_, err := f.do(ctx, Request{Method: http.MethodDelete, URL: url, ETag: etag})
	return err
}
