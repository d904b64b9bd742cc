// Package queue implements the durable sync queue: an ordered log of
// pending local mutations layered on the local store.
//
// The queue guarantees at most one pending entry per entity key. A newer
// mutation coalesces into an existing pending entry instead of appending a
// second one; an entry that is already in flight is never mutated, so a
// follow-up edit made mid-dispatch queues behind it. All state lives in
// the store, which makes the queue restart-safe: Recover() turns stranded
// in-flight entries back into pending ones.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
	"github.com/inkwell-app/inkwell-sync/internal/util"
)

// DefaultMaxAttempts is the retry ceiling before an entry parks as failed.
const DefaultMaxAttempts = 5

// ErrEntityExists is returned when inserting an entity that is already
// mirrored locally.
var ErrEntityExists = errors.New("entity already exists")

// Config holds queue configuration.
type Config struct {
	// MaxAttempts is the retry ceiling. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// OnEnqueue, if set, is invoked after every successful enqueue. The
	// engine uses it to trigger an opportunistic drain while online.
	OnEnqueue func()

	// Logger for queue activity. Defaults to stderr.
	Logger *log.Logger
}

// Mutation is one local edit handed to the queue by the application layer.
type Mutation struct {
	Type      schema.EntityType
	ID        string
	Operation schema.Operation

	// Payload is the full record snapshot for inserts and updates, empty
	// for deletes. Whole-snapshot payloads keep coalescing a plain
	// replacement instead of a field merge.
	Payload json.RawMessage
}

// Queue is the durable mutation queue.
type Queue struct {
	store       store.Store
	maxAttempts int
	onEnqueue   func()
	logger      *log.Logger

	// mu serializes the read-coalesce-write sequence in Enqueue against
	// Drain's status transitions.
	mu sync.Mutex
}

// New creates a queue over the given store.
func New(st store.Store, cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		store:       st,
		maxAttempts: cfg.MaxAttempts,
		onEnqueue:   cfg.OnEnqueue,
		logger:      cfg.Logger,
	}
}

// Recover transitions entries stranded in flight by a crash back to
// pending. Call once at startup before the engine runs. Delivery to the
// backend is at-least-once; the backend deduplicates by entity id and
// version.
func (q *Queue) Recover(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.store.ListQueueEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queue entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Status != schema.StatusInFlight {
			continue
		}
		entry.Status = schema.StatusPending
		if err := q.store.PutQueueEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to recover entry %s: %w", entry.EntryID, err)
		}
		q.logger.Printf("Recovered in-flight entry %s (%s)", entry.EntryID, entry.Key())
	}
	return nil
}

// Enqueue durably records a mutation and applies it to the local mirror.
//
// The entity is updated optimistically (content replaced, local version
// bumped, sync state set to pending) before any network activity, so the
// UI can re-read its own write immediately. A storage failure is returned
// to the caller and nothing is half-applied silently: losing an edit
// without telling anyone is the one unacceptable outcome.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (*schema.QueueEntry, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("unknown entity type: %q", m.Type)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("entity id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var entry *schema.QueueEntry
	var err error
	switch m.Operation {
	case schema.OpInsert:
		entry, err = q.enqueueInsert(ctx, m)
	case schema.OpUpdate:
		entry, err = q.enqueueUpdate(ctx, m)
	case schema.OpDelete:
		entry, err = q.enqueueDelete(ctx, m)
	default:
		return nil, fmt.Errorf("unknown operation: %q", m.Operation)
	}
	if err != nil {
		return nil, err
	}

	if q.onEnqueue != nil {
		q.onEnqueue()
	}
	return entry, nil
}

func (q *Queue) enqueueInsert(ctx context.Context, m Mutation) (*schema.QueueEntry, error) {
	if _, err := q.store.GetEntity(ctx, m.Type, m.ID); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrEntityExists, m.Type, m.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check entity: %w", err)
	}

	now := time.Now().UTC()
	entity := &schema.Entity{
		ID:            m.ID,
		Type:          m.Type,
		RemoteVersion: 0,
		LocalVersion:  1,
		Content:       m.Payload,
		UpdatedAt:     now,
		SyncState:     schema.StatePendingLocal,
	}
	if err := q.store.PutEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to apply insert locally: %w", err)
	}

	entry := &schema.QueueEntry{
		EntryID:           util.NewID("qe"),
		EntityType:        m.Type,
		EntityID:          m.ID,
		Operation:         schema.OpInsert,
		Payload:           m.Payload,
		BaseRemoteVersion: 0,
		LocalVersion:      1,
		EnqueuedAt:        now,
		Status:            schema.StatusPending,
	}
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to enqueue insert: %w", err)
	}
	return entry, nil
}

func (q *Queue) enqueueUpdate(ctx context.Context, m Mutation) (*schema.QueueEntry, error) {
	entity, err := q.store.GetEntity(ctx, m.Type, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity for update: %w", err)
	}

	version, err := q.store.IncrementLocalVersion(ctx, m.Type, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump local version: %w", err)
	}

	now := time.Now().UTC()
	entity.LocalVersion = version
	entity.Content = m.Payload
	entity.UpdatedAt = now
	if entity.SyncState == schema.StateSynced {
		entity.SyncState = schema.StatePendingLocal
	}
	if err := q.store.PutEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to apply update locally: %w", err)
	}

	key := schema.Key{Type: m.Type, ID: m.ID}
	existing, err := q.store.PendingEntryForKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check pending entry: %w", err)
	}

	if existing != nil {
		// Latest wins: the pending entry keeps its id and queue
		// position, only the payload and version move forward. A
		// pending insert stays an insert since the server has never
		// seen the entity.
		existing.Payload = m.Payload
		existing.LocalVersion = version
		if err := q.store.PutQueueEntry(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to coalesce update: %w", err)
		}
		return existing, nil
	}

	entry := &schema.QueueEntry{
		EntryID:           util.NewID("qe"),
		EntityType:        m.Type,
		EntityID:          m.ID,
		Operation:         schema.OpUpdate,
		Payload:           m.Payload,
		BaseRemoteVersion: entity.RemoteVersion,
		LocalVersion:      version,
		EnqueuedAt:        now,
		Status:            schema.StatusPending,
	}
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to enqueue update: %w", err)
	}
	return entry, nil
}

func (q *Queue) enqueueDelete(ctx context.Context, m Mutation) (*schema.QueueEntry, error) {
	entity, err := q.store.GetEntity(ctx, m.Type, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity for delete: %w", err)
	}

	key := schema.Key{Type: m.Type, ID: m.ID}
	existing, err := q.store.PendingEntryForKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check pending entry: %w", err)
	}

	if existing != nil && existing.Operation == schema.OpInsert {
		// The server never saw this entity: cancel the insert and
		// remove the mirror. Nothing to deliver.
		if err := q.store.DeleteQueueEntry(ctx, existing.EntryID); err != nil {
			return nil, fmt.Errorf("failed to cancel pending insert: %w", err)
		}
		if err := q.store.DeleteEntity(ctx, m.Type, m.ID); err != nil {
			return nil, fmt.Errorf("failed to remove local entity: %w", err)
		}
		q.logger.Printf("Cancelled unsynced insert %s", key)
		return nil, nil
	}

	now := time.Now().UTC()

	// The mirror row survives until the delete is acknowledged; only the
	// sync state changes. Removing it now would lose the baseline needed
	// for conflict handling if the server reports a newer revision.
	entity.SyncState = schema.StatePendingLocal
	entity.UpdatedAt = now
	if err := q.store.PutEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to mark entity for delete: %w", err)
	}

	if existing != nil {
		existing.Operation = schema.OpDelete
		existing.Payload = nil
		existing.LocalVersion = entity.LocalVersion
		if err := q.store.PutQueueEntry(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to coalesce delete: %w", err)
		}
		return existing, nil
	}

	entry := &schema.QueueEntry{
		EntryID:           util.NewID("qe"),
		EntityType:        m.Type,
		EntityID:          m.ID,
		Operation:         schema.OpDelete,
		BaseRemoteVersion: entity.RemoteVersion,
		LocalVersion:      entity.LocalVersion,
		EnqueuedAt:        now,
		Status:            schema.StatusPending,
	}
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to enqueue delete: %w", err)
	}
	return entry, nil
}

// EnqueueRebased records a conflicted local edit on top of a refreshed
// remote baseline. Used by the engine's conflict path; the entry is a
// fresh pending entry carrying the original payload.
func (q *Queue) EnqueueRebased(ctx context.Context, original *schema.QueueEntry, baseRemoteVersion, localVersion int64) (*schema.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op := original.Operation
	if op == schema.OpInsert {
		// The entity exists remotely after all; the layered edit is an
		// update against the observed revision.
		op = schema.OpUpdate
	}

	entry := &schema.QueueEntry{
		EntryID:           util.NewID("qe"),
		EntityType:        original.EntityType,
		EntityID:          original.EntityID,
		Operation:         op,
		Payload:           original.Payload,
		BaseRemoteVersion: baseRemoteVersion,
		LocalVersion:      localVersion,
		EnqueuedAt:        time.Now().UTC(),
		Status:            schema.StatusPending,
	}
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to enqueue rebased entry: %w", err)
	}
	return entry, nil
}

// Drain returns up to limit pending entries in FIFO order by enqueue
// time, marking each in flight. Entries whose entity already has an entry
// in flight are skipped, which keeps same-entity mutations strictly
// serialized while unrelated entities dispatch concurrently.
func (q *Queue) Drain(ctx context.Context, limit int) ([]*schema.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.store.ListQueueEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}

	inFlight := make(map[schema.Key]bool)
	for _, entry := range entries {
		if entry.Status == schema.StatusInFlight {
			inFlight[entry.Key()] = true
		}
	}

	var batch []*schema.QueueEntry
	for _, entry := range entries {
		if len(batch) >= limit {
			break
		}
		if entry.Status != schema.StatusPending || inFlight[entry.Key()] {
			continue
		}
		entry.Status = schema.StatusInFlight
		if err := q.store.PutQueueEntry(ctx, entry); err != nil {
			return batch, fmt.Errorf("failed to mark entry %s in flight: %w", entry.EntryID, err)
		}
		inFlight[entry.Key()] = true
		batch = append(batch, entry)
	}
	return batch, nil
}

// Acknowledge removes a successfully delivered entry.
func (q *Queue) Acknowledge(ctx context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.DeleteQueueEntry(ctx, entryID); err != nil {
		return fmt.Errorf("failed to acknowledge entry %s: %w", entryID, err)
	}
	return nil
}

// Requeue transitions an in-flight entry back to pending after a transient
// failure, bumping its attempt counter. Once attempts reach the ceiling
// the entry parks as failed and is surfaced instead of retried; it is
// never dropped.
func (q *Queue) Requeue(ctx context.Context, entryID, reason string) (*schema.QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}
	entry.Attempts++
	if entry.Attempts >= q.maxAttempts {
		entry.Status = schema.StatusFailed
		entry.FailureReason = reason
		q.logger.Printf("Entry %s (%s) failed after %d attempts: %s",
			entry.EntryID, entry.Key(), entry.Attempts, reason)
	} else {
		entry.Status = schema.StatusPending
	}
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to requeue entry %s: %w", entryID, err)
	}
	return entry, nil
}

// Fail parks an entry as failed without further retries. Used for
// permanent rejections (validation, authorization).
func (q *Queue) Fail(ctx context.Context, entryID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}
	entry.Status = schema.StatusFailed
	entry.FailureReason = reason
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to park entry %s: %w", entryID, err)
	}
	q.logger.Printf("Entry %s (%s) permanently rejected: %s", entry.EntryID, entry.Key(), reason)
	return nil
}

// RetryFailed resets a failed entry to pending with a fresh attempt
// budget. This backs the user-facing retry affordance.
func (q *Queue) RetryFailed(ctx context.Context, entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.store.GetQueueEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}
	if entry.Status != schema.StatusFailed {
		return fmt.Errorf("entry %s is %s, not failed", entryID, entry.Status)
	}
	entry.Status = schema.StatusPending
	entry.Attempts = 0
	entry.FailureReason = ""
	if err := q.store.PutQueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to reset entry %s: %w", entryID, err)
	}
	if q.onEnqueue != nil {
		q.onEnqueue()
	}
	return nil
}

// Entries returns a snapshot of all persisted entries in FIFO order.
func (q *Queue) Entries(ctx context.Context) ([]*schema.QueueEntry, error) {
	return q.store.ListQueueEntries(ctx)
}

// PendingCount returns how many entries are waiting or in flight.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	entries, err := q.store.ListQueueEntries(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if entry.Status == schema.StatusPending || entry.Status == schema.StatusInFlight {
			n++
		}
	}
	return n, nil
}
