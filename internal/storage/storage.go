// Package storage uploads assets to durable object storage and issues
// time-limited read URLs.
package storage

import (
	"context"
	"io"
	"time"
)

// Gateway is the durable storage surface the ingestion path depends on.
type Gateway interface {
	// Upload stores the stream under key and returns a retrievable URL.
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	// Delete removes a single object.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under the given key prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// SignedURL issues a time-limited read URL for an object.
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
