package kvstore

import (
	"context"
	"time"
)

// Entry is a single KV record as returned by Get, List, or a watch event.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// EventType classifies a watch notification.
type EventType string

const (
	EventPut    EventType = "put"
	EventDelete EventType = "delete"
)

// WatchEvent is a single change notification delivered by Watch. TTL
// expiry surfaces as a Delete event, possibly delayed by the backend's
// sweep period (spec.md §4.3).
type WatchEvent struct {
	Key      string
	Type     EventType
	Revision uint64
}

// PutOptions configures an unconditional Put.
type PutOptions struct {
	// TTL, if non-zero, causes the backend to expire the key if it is
	// not refreshed (re-Put or CAS-updated) within this duration.
	TTL time.Duration
}

// KVStore is the capability set spec.md §4.3 requires of a broker-side
// key/value backend. Implementations must be safe for concurrent use.
type KVStore interface {
	// Get returns the current value and revision for key, or ok=false
	// if the key does not exist (including expired-via-TTL).
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)

	// Put writes key unconditionally, overwriting any existing value
	// and revision.
	Put(ctx context.Context, key string, value []byte, opts PutOptions) error

	// Create writes key only if it does not currently exist. Returns a
	// merr KeyExists error if it does.
	Create(ctx context.Context, key string, value []byte, opts PutOptions) error

	// Update performs a compare-and-swap: it writes value only if the
	// key's current revision equals expectedRevision. Returns a merr
	// RevisionMismatch error otherwise (including if the key is now
	// absent).
	Update(ctx context.Context, key string, value []byte, expectedRevision uint64, opts PutOptions) error

	// Delete removes key if present. Returns existed=true if a value
	// was actually removed; never errors on absence (idempotent).
	Delete(ctx context.Context, key string) (existed bool, err error)

	// List returns every entry whose key has the given prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Keys returns every key with the given prefix, without values.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Watch returns a channel of change events for keys under prefix.
	// The channel is closed when ctx is cancelled. Implementations
	// should be restartable by the caller after a delivery gap; events
	// during a gap may be lost (spec.md §4.3).
	Watch(ctx context.Context, prefix string) (<-chan WatchEvent, error)

	// Close releases backend resources held by this adapter.
	Close() error
}
