// Package store defines the local persistence interface shared by all
// platform profiles.
//
// The store is the single owner of on-disk state: the synced-entity mirror,
// the durable sync queue, and a small metadata table (pull cursor and
// friends). Everything the sync engine knows survives restart because it
// lives behind this interface.
package store

import (
	"context"
	"errors"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
)

// Common errors returned by store implementations.
//
// Check with errors.Is:
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // record does not exist
//	}
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// Store is the capability-uniform handle over platform persistent storage.
//
// Implementations must be durable (survive process restart) and must make
// IncrementLocalVersion an atomic read-modify-write. All write methods are
// synchronous: when they return nil the record is on stable storage.
type Store interface {
	// GetEntity returns the entity, or ErrNotFound.
	GetEntity(ctx context.Context, t schema.EntityType, id string) (*schema.Entity, error)

	// PutEntity inserts or replaces an entity.
	PutEntity(ctx context.Context, e *schema.Entity) error

	// DeleteEntity removes an entity. Deleting a missing entity is not an
	// error (idempotent).
	DeleteEntity(ctx context.Context, t schema.EntityType, id string) error

	// ListEntities returns all entities of the given type, or all
	// entities when t is empty.
	ListEntities(ctx context.Context, t schema.EntityType) ([]*schema.Entity, error)

	// IncrementLocalVersion atomically bumps the entity's local change
	// counter and returns the new value. Returns ErrNotFound if the
	// entity does not exist.
	IncrementLocalVersion(ctx context.Context, t schema.EntityType, id string) (int64, error)

	// PutQueueEntry inserts or replaces a queue entry by entry id.
	PutQueueEntry(ctx context.Context, entry *schema.QueueEntry) error

	// GetQueueEntry returns the entry, or ErrNotFound.
	GetQueueEntry(ctx context.Context, entryID string) (*schema.QueueEntry, error)

	// DeleteQueueEntry removes an entry. Idempotent.
	DeleteQueueEntry(ctx context.Context, entryID string) error

	// ListQueueEntries returns all persisted entries in FIFO order by
	// enqueue time. Implementations skip records they cannot decode
	// (logging them) rather than failing the whole listing.
	ListQueueEntries(ctx context.Context) ([]*schema.QueueEntry, error)

	// PendingEntryForKey returns the pending entry for an entity key, or
	// ErrNotFound. At most one pending entry exists per key.
	PendingEntryForKey(ctx context.Context, key schema.Key) (*schema.QueueEntry, error)

	// Meta returns a metadata value, or ErrNotFound.
	Meta(ctx context.Context, key string) (string, error)

	// SetMeta inserts or replaces a metadata value.
	SetMeta(ctx context.Context, key, value string) error

	// Close releases the underlying storage handle.
	Close() error
}

// MetaPullCursor is the metadata key holding the highest remote version
// applied by the pull path.
const MetaPullCursor = "pull_cursor"
