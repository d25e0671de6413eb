// Package cache provides the time-bounded byte cache backing the token
// validator's remote lookups (JWKS documents, introspection verdicts).
// Entries are bounded by time, not correctness: a stale entry is refetched,
// never trusted past its expiry.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL'd key/value store. Implementations must tolerate
// concurrent use from independent request-handling goroutines.
type Cache interface {
	// Get retrieves the entry for key. A missing or expired entry returns
	// (nil, nil); errors are reserved for backend failures.
	Get(ctx context.Context, key string) (*Item, error)

	// Set stores data under key. A non-positive ttl stores without expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes the entry for key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Item is one stored entry with its expiry metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// Expired reports whether the item is past its expiry.
func (it *Item) Expired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}
