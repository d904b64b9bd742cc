package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"

	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := Open(path, "sqlite", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func testEntity(id string) *schema.Entity {
	return &schema.Entity{
		ID:            id,
		Type:          schema.EntityDocument,
		RemoteVersion: 1,
		LocalVersion:  1,
		Content:       json.RawMessage(`{"body":"hello"}`),
		UpdatedAt:     time.Now().UTC(),
		SyncState:     schema.StatePendingLocal,
	}
}

func testEntry(entryID, entityID string) *schema.QueueEntry {
	return &schema.QueueEntry{
		EntryID:           entryID,
		EntityType:        schema.EntityDocument,
		EntityID:          entityID,
		Operation:         schema.OpUpdate,
		Payload:           json.RawMessage(`{"body":"hello"}`),
		BaseRemoteVersion: 1,
		LocalVersion:      2,
		EnqueuedAt:        time.Now().UTC(),
		Status:            schema.StatusPending,
	}
}

func TestEntityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntity("doc-1")
	if err := s.PutEntity(ctx, e); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}

	got, err := s.GetEntity(ctx, schema.EntityDocument, "doc-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.ID != e.ID || got.RemoteVersion != e.RemoteVersion || got.SyncState != e.SyncState {
		t.Errorf("GetEntity() = %+v, want %+v", got, e)
	}
	if string(got.Content) != string(e.Content) {
		t.Errorf("content = %s, want %s", got.Content, e.Content)
	}

	// Replace via upsert
	e.RemoteVersion = 7
	e.SyncState = schema.StateSynced
	if err := s.PutEntity(ctx, e); err != nil {
		t.Fatalf("PutEntity() replace error = %v", err)
	}
	got, err = s.GetEntity(ctx, schema.EntityDocument, "doc-1")
	if err != nil {
		t.Fatalf("GetEntity() after replace error = %v", err)
	}
	if got.RemoteVersion != 7 || got.SyncState != schema.StateSynced {
		t.Errorf("after replace got remote=%d state=%s", got.RemoteVersion, got.SyncState)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetEntity(context.Background(), schema.EntityDocument, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetEntity() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteEntityIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutEntity(ctx, testEntity("doc-1")); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}
	if err := s.DeleteEntity(ctx, schema.EntityDocument, "doc-1"); err != nil {
		t.Fatalf("DeleteEntity() error = %v", err)
	}
	// Second delete must not fail
	if err := s.DeleteEntity(ctx, schema.EntityDocument, "doc-1"); err != nil {
		t.Fatalf("DeleteEntity() second call error = %v", err)
	}
	if _, err := s.GetEntity(ctx, schema.EntityDocument, "doc-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetEntity() after delete error = %v, want ErrNotFound", err)
	}
}

func TestIncrementLocalVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntity("doc-1")
	e.LocalVersion = 0
	if err := s.PutEntity(ctx, e); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementLocalVersion(ctx, schema.EntityDocument, "doc-1")
		if err != nil {
			t.Fatalf("IncrementLocalVersion() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrementLocalVersion() = %d, want %d", got, want)
		}
	}

	if _, err := s.IncrementLocalVersion(ctx, schema.EntityDocument, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("IncrementLocalVersion() on missing entity error = %v, want ErrNotFound", err)
	}
}

// The engine dispatches batches concurrently while the UI keeps
// enqueueing, so writes land on several pooled connections at once.
// Every connection must wait out the write lock rather than surface
// SQLITE_BUSY, and no two bumps may yield the same version.
func TestConcurrentWritersContend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := testEntity("doc-1")
	e.LocalVersion = 0
	if err := s.PutEntity(ctx, e); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}

	const workers = 6
	const bumps = 25

	versions := make(chan int64, workers*bumps)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < bumps; i++ {
				v, err := s.IncrementLocalVersion(ctx, schema.EntityDocument, "doc-1")
				if err != nil {
					t.Errorf("IncrementLocalVersion() error = %v", err)
					return
				}
				versions <- v
				entry := testEntry(fmt.Sprintf("q-%d-%d", w, i), "doc-1")
				if err := s.PutQueueEntry(ctx, entry); err != nil {
					t.Errorf("PutQueueEntry() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		if seen[v] {
			t.Errorf("version %d produced twice", v)
		}
		seen[v] = true
	}
	got, err := s.GetEntity(ctx, schema.EntityDocument, "doc-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if got.LocalVersion != workers*bumps {
		t.Errorf("LocalVersion = %d, want %d", got.LocalVersion, workers*bumps)
	}
}

func TestQueueRoundTripAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"q-1", "q-2", "q-3"} {
		entry := testEntry(id, "doc-"+id)
		entry.EnqueuedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.PutQueueEntry(ctx, entry); err != nil {
			t.Fatalf("PutQueueEntry(%s) error = %v", id, err)
		}
	}

	entries, err := s.ListQueueEntries(ctx)
	if err != nil {
		t.Fatalf("ListQueueEntries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ListQueueEntries() returned %d entries, want 3", len(entries))
	}
	for i, want := range []string{"q-1", "q-2", "q-3"} {
		if entries[i].EntryID != want {
			t.Errorf("entries[%d] = %s, want %s (FIFO order)", i, entries[i].EntryID, want)
		}
	}

	if err := s.DeleteQueueEntry(ctx, "q-2"); err != nil {
		t.Fatalf("DeleteQueueEntry() error = %v", err)
	}
	if _, err := s.GetQueueEntry(ctx, "q-2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetQueueEntry() after delete error = %v, want ErrNotFound", err)
	}
}

func TestPendingEntryForKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := schema.Key{Type: schema.EntityDocument, ID: "doc-1"}
	if _, err := s.PendingEntryForKey(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("PendingEntryForKey() on empty queue error = %v, want ErrNotFound", err)
	}

	inFlight := testEntry("q-1", "doc-1")
	inFlight.Status = schema.StatusInFlight
	if err := s.PutQueueEntry(ctx, inFlight); err != nil {
		t.Fatalf("PutQueueEntry() error = %v", err)
	}

	// In-flight entries must not be returned as pending
	if _, err := s.PendingEntryForKey(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("PendingEntryForKey() with only in-flight entry error = %v, want ErrNotFound", err)
	}

	pending := testEntry("q-2", "doc-1")
	pending.EnqueuedAt = inFlight.EnqueuedAt.Add(time.Second)
	if err := s.PutQueueEntry(ctx, pending); err != nil {
		t.Fatalf("PutQueueEntry() error = %v", err)
	}

	got, err := s.PendingEntryForKey(ctx, key)
	if err != nil {
		t.Fatalf("PendingEntryForKey() error = %v", err)
	}
	if got.EntryID != "q-2" {
		t.Errorf("PendingEntryForKey() = %s, want q-2", got.EntryID)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Meta(ctx, store.MetaPullCursor); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Meta() on missing key error = %v, want ErrNotFound", err)
	}
	if err := s.SetMeta(ctx, store.MetaPullCursor, "42"); err != nil {
		t.Fatalf("SetMeta() error = %v", err)
	}
	if err := s.SetMeta(ctx, store.MetaPullCursor, "43"); err != nil {
		t.Fatalf("SetMeta() replace error = %v", err)
	}
	got, err := s.Meta(ctx, store.MetaPullCursor)
	if err != nil {
		t.Fatalf("Meta() error = %v", err)
	}
	if got != "43" {
		t.Errorf("Meta() = %q, want %q", got, "43")
	}
}

func TestCorruptQueueRowSkipped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutQueueEntry(ctx, testEntry("q-good", "doc-1")); err != nil {
		t.Fatalf("PutQueueEntry() error = %v", err)
	}

	// Inject a malformed row behind the store's back.
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_queue (entry_id, entity_type, entity_id, operation, payload,
			base_remote_version, local_version, enqueued_at, attempts, status, failure_reason)
		VALUES ('q-bad', 'document', 'doc-2', 'teleport', '{}', 0, 0, 'not-a-time', 0, 'pending', NULL)`)
	if err != nil {
		t.Fatalf("failed to inject corrupt row: %v", err)
	}

	entries, err := s.ListQueueEntries(ctx)
	if err != nil {
		t.Fatalf("ListQueueEntries() error = %v", err)
	}
	if len(entries) != 1 || entries[0].EntryID != "q-good" {
		t.Errorf("ListQueueEntries() = %v, want only q-good", entries)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	ctx := context.Background()

	s, err := Open(path, "sqlite", nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.PutEntity(ctx, testEntity("doc-1")); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}
	if err := s.PutQueueEntry(ctx, testEntry("q-1", "doc-1")); err != nil {
		t.Fatalf("PutQueueEntry() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(path, "sqlite", nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if _, err := s.GetEntity(ctx, schema.EntityDocument, "doc-1"); err != nil {
		t.Errorf("GetEntity() after reopen error = %v", err)
	}
	if _, err := s.GetQueueEntry(ctx, "q-1"); err != nil {
		t.Errorf("GetQueueEntry() after reopen error = %v", err)
	}
}
