package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/roach88/odatalink/internal/errs"
)

// DefaultTimeout bounds a single round trip when no client is supplied.
const DefaultTimeout = 30 * time.Second

// HTTP is a Transport over net/http.
type HTTP struct {
	client  *http.Client
	headers http.Header
	tokens  TokenSource
	logger  *slog.Logger
}

// Option configures an HTTP transport.
type Option func(*HTTP)

// WithClient replaces the http.Client.
func WithClient(c *http.Client) Option {
	return func(t *HTTP) {
		if c != nil {
			t.client = c
		}
	}
}

// WithTimeout sets the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTP) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(t *HTTP) {
		t.headers.Add(key, value)
	}
}

// WithBearer authenticates requests with tokens from src.
func WithBearer(src TokenSource) Option {
	return func(t *HTTP) {
		t.tokens = src
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(t *HTTP) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewHTTP creates an HTTP transport.
func NewHTTP(opts ...Option) *HTTP {
	t := &HTTP{
		client:  &http.Client{Timeout: DefaultTimeout},
		headers: make(http.Header),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns the underlying http.Client.
func (t *HTTP) Client() *http.Client { return t.client }

// Get implements Transport.
func (t *HTTP) Get(ctx context.Context, url string) ([]byte, error) {
	return t.do(ctx, http.MethodGet, url, nil, "")
}

// Post implements Transport.
func (t *HTTP) Post(ctx context.Context, url string, body []byte) ([]byte, error) {
	return t.do(ctx, http.MethodPost, url, body, "")
}

// Patch implements Transport.
func (t *HTTP) Patch(ctx context.Context, url string, body []byte, etag string) ([]byte, error) {
	return t.do(ctx, http.MethodPatch, url, body, etag)
}

// Delete implements Transport.
func (t *HTTP) Delete(ctx context.Context, url string, etag string) error {
	_, err := t.do(ctx, http.MethodDelete, url, nil, etag)
	return err
}

func (t *HTTP) do(ctx context.Context, method, url string, body []byte, etag string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &errs.TransportError{Method: method, URL: url, Err: err}
	}

	for k, vs := range t.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("OData-MaxVersion", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	if t.tokens != nil {
		tok, err := t.tokens.Token(ctx)
		if err != nil {
			return nil, &errs.TransportError{Method: method, URL: url, Err: fmt.Errorf("token: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &errs.TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, &errs.TransportError{Method: method, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	t.logger.Debug("odata request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(data),
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(method, url, resp.StatusCode, data)
	}
	return data, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return io.ReadAll(resp.Body)
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// errorDocument is the service error body. Verbose JSON services send the
// message as {"lang": ..., "value": ...}; jsonText accepts both shapes.
type errorDocument struct {
	Error *struct {
		Code       string   `json:"code"`
		Message    jsonText `json:"message"`
		InnerError *struct {
			Message jsonText `json:"message"`
		} `json:"innererror"`
		Details []struct {
			Code    string   `json:"code"`
			Message jsonText `json:"message"`
		} `json:"details"`
	} `json:"error"`
	V3Error *struct {
		Code    string   `json:"code"`
		Message jsonText `json:"message"`
	} `json:"odata.error"`
}

type jsonText string

func (t *jsonText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = jsonText(s)
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = jsonText(obj.Value)
	return nil
}

func parseError(method, url string, status int, body []byte) *errs.TransportError {
	te := &errs.TransportError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Message:    http.StatusText(status),
		Body:       body,
	}

	var doc errorDocument
	if len(body) == 0 || json.Unmarshal(body, &doc) != nil {
		return te
	}

	switch {
	case doc.Error != nil:
		te.Code = doc.Error.Code
		if doc.Error.Message != "" {
			te.Message = string(doc.Error.Message)
		}
		var detail []string
		if doc.Error.InnerError != nil && doc.Error.InnerError.Message != "" {
			detail = append(detail, string(doc.Error.InnerError.Message))
		}
		for _, d := range doc.Error.Details {
			detail = append(detail, fmt.Sprintf("(%s): %s", d.Code, d.Message))
		}
		te.DetailedMessage = strings.Join(detail, "\n")
	case doc.V3Error != nil:
		te.Code = doc.V3Error.Code
		if doc.V3Error.Message != "" {
			te.Message = string(doc.V3Error.Message)
		}
	}
	return te
}
