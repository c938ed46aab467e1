// Package transport defines the thin interface over the pub/sub /
// queryable key-value store. The core never
// depends on a concrete transport; it only consumes Store.
package transport

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when a one-shot query comes back
// with no reply.
var ErrNotFound = errors.New("transport: key not found")

// Store is the only surface the daemon's core consumes from the
// underlying transport.
type Store interface {
	// Publish stores bytes under key using blocking / back-pressured send
	// semantics, so large files do not overrun queues.
	Publish(ctx context.Context, key string, data []byte) error

	// Get performs a one-shot query for key. It returns ErrNotFound (wrapped
	// or not) if no reply arrives.
	Get(ctx context.Context, key string) ([]byte, error)
}

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
