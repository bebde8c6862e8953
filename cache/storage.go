package cache

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownProvider = errors.New("unknown cache provider")

// Storage partitions cached responses into named namespaces.
// A namespace exists once an entry has been put into it.
//
// Implementations must be thread-safe!
// A single Put must be atomic: readers see either the old or the new entry.
type Storage interface {
	// Open returns a handle to the named namespace. It does not create
	// the namespace; the first Put does.
	Open(ctx context.Context, name string) (Handle, error)
	// Namespaces lists the names of all namespaces holding entries.
	Namespaces(ctx context.Context) ([]string, error)
	// Delete removes a namespace and all its entries.
	// It reports whether the namespace existed.
	Delete(ctx context.Context, name string) (bool, error)
	Close() error
}

// Handle gives access to the entries of a single namespace.
type Handle interface {
	Name() string
	// Lookup returns the entry stored under key.
	// The boolean is false if there is no such entry.
	Lookup(ctx context.Context, key string) (CacheEntry, bool, error)
	// Put stores the entry, replacing any entry with the same key.
	Put(ctx context.Context, entry CacheEntry) error
	// Keys calls the given callback for each key in the namespace.
	Keys(ctx context.Context, cb func(string)) error
}

// CacheEntry is a stored response.
// Bytes is the HTTP/1.1 wire representation of the response.
type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}
