// Package cache defines the shared, out-of-process cache the graph read cache can sit on.
package cache

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get for absent or expired keys.
	ErrKeyNotFound = errors.New("key not found")
)

// Cache is a byte-oriented key/value cache shared between worker processes.
type Cache interface {
	// Ping returns the server liveliness response.
	Ping(ctx context.Context) error

	// Close closes the server connection.
	Close() error

	// Del removes the specified keys. A key is ignored if it does not exist.
	Del(ctx context.Context, keys ...string) error

	// Get returns the value associated with the key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the cache's configured TTL, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
}
