// Package cursor stores scan cursors and the list of units that failed.
package cursor

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("cursor store closed")

// Store is a small key/value store with append-only lists.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Push prepends value to the list at key.
	Push(ctx context.Context, key, value string) error
	// List returns the list at key, newest first.
	List(ctx context.Context, key string) ([]string, error)
	// Keys returns the stored keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
