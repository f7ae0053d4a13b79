package metadata

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/roach88/odatalink/internal/transport"
)

// MetadataURL returns the $metadata address of the service rooted at
// serviceURL.
func MetadataURL(serviceURL string) string {
	return strings.TrimRight(serviceURL, "/") + "/$metadata"
}

// Fetch downloads the raw metadata document.
func Fetch(ctx context.Context, t transport.Transport, serviceURL string) ([]byte, error) {
	body, err := t.Get(ctx, MetadataURL(serviceURL))
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	return body, nil
}

// Reflect downloads and parses the metadata document of a service.
func Reflect(ctx context.Context, t transport.Transport, serviceURL string) (*Document, error) {
	body, err := Fetch(ctx, t, serviceURL)
	if err != nil {
		return nil, err
	}
	return ParseDocument(bytes.NewReader(body))
}
