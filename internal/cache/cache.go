// Package cache holds the most recent in-memory state of each polled
// address, keyed by address key.
package cache

import (
	"context"
)

// Cache stores values of type T by key. Implementations must be safe for
// concurrent use.
type Cache[T any] interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores value for key, replacing any previous value.
	Set(ctx context.Context, key string, value T) error

	// Invalidate removes key.
	Invalidate(ctx context.Context, key string) error

	// Close drops all values and releases held resources.
	Close() error
}
