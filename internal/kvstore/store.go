// Package kvstore defines the persistent key-value capability used by the
// cache's second tier, with interchangeable backends.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrQuotaExceeded is returned when a backend refuses a write for lack of space.
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvstore: store closed")
)

// Store is a string-keyed, text-valued store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every key currently held.
	Keys(ctx context.Context) ([]string, error)
}
