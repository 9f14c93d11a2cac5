// Package storage defines the key-value persistence boundary of the guard and
// its backends.  There are two scopes: a durable one that survives restarts
// (bbolt or Redis) and an ephemeral session one that does not.
//
// Backends degrade gracefully: loading a key that has never been stored
// returns nil data and no error, and callers are expected to treat backend
// errors as cache misses.
package storage

import "context"

// Store is a single key-value persistence scope.  Implementations must be
// safe for concurrent use.
type Store interface {
	// Load returns the data stored under key, or nil if nothing is stored.
	Load(ctx context.Context, key string) (data []byte, err error)

	// Store persists data under key, replacing any previous value.
	Store(ctx context.Context, key string, data []byte) (err error)
}

// Empty is a [Store] that stores nothing and never fails.  It is used when no
// durable scope is configured.
type Empty struct{}

// type check
var _ Store = Empty{}

// Load implements the [Store] interface for Empty.  It always returns nil.
func (Empty) Load(_ context.Context, _ string) (data []byte, err error) { return nil, nil }

// Store implements the [Store] interface for Empty.  It is a no-op.
func (Empty) Store(_ context.Context, _ string, _ []byte) (err error) { return nil }
