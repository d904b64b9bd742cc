package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
	"github.com/inkwell-app/inkwell-sync/internal/store/sqlite"

	_ "modernc.org/sqlite"
)

func newTestQueue(t *testing.T, cfg Config) (*Queue, store.Store) {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "sync.db"), "sqlite", nil)
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, cfg), st
}

func nowUTC() time.Time { return time.Now().UTC() }

func payload(body string) json.RawMessage {
	return json.RawMessage(`{"body":` + `"` + body + `"}`)
}

func insertDoc(t *testing.T, q *Queue, id string) *schema.QueueEntry {
	t.Helper()

	entry, err := q.Enqueue(context.Background(), Mutation{
		Type:      schema.EntityDocument,
		ID:        id,
		Operation: schema.OpInsert,
		Payload:   payload("v0"),
	})
	if err != nil {
		t.Fatalf("Enqueue(insert %s) error = %v", id, err)
	}
	return entry
}

func TestEnqueueInsertAppliesLocally(t *testing.T) {
	q, st := newTestQueue(t, Config{})
	ctx := context.Background()

	entry := insertDoc(t, q, "doc-1")
	if entry.Operation != schema.OpInsert || entry.Status != schema.StatusPending {
		t.Errorf("entry = %+v, want pending insert", entry)
	}

	e, err := st.GetEntity(ctx, schema.EntityDocument, "doc-1")
	if err != nil {
		t.Fatalf("GetEntity() error = %v", err)
	}
	if e.SyncState != schema.StatePendingLocal {
		t.Errorf("sync state = %s, want pending_local_changes", e.SyncState)
	}
	if e.LocalVersion != 1 || e.RemoteVersion != 0 {
		t.Errorf("versions = local %d remote %d, want 1/0", e.LocalVersion, e.RemoteVersion)
	}
}

func TestEnqueueInsertDuplicate(t *testing.T) {
	q, _ := newTestQueue(t, Config{})

	insertDoc(t, q, "doc-1")
	_, err := q.Enqueue(context.Background(), Mutation{
		Type:      schema.EntityDocument,
		ID:        "doc-1",
		Operation: schema.OpInsert,
		Payload:   payload("again"),
	})
	if !errors.Is(err, ErrEntityExists) {
		t.Errorf("duplicate insert error = %v, want ErrEntityExists", err)
	}
}

func TestUpdateCoalescesIntoPending(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	first := insertDoc(t, q, "doc-1")

	second, err := q.Enqueue(ctx, Mutation{
		Type:      schema.EntityDocument,
		ID:        "doc-1",
		Operation: schema.OpUpdate,
		Payload:   payload("v1"),
	})
	if err != nil {
		t.Fatalf("Enqueue(update) error = %v", err)
	}

	if second.EntryID != first.EntryID {
		t.Errorf("coalesced entry id = %s, want original %s", second.EntryID, first.EntryID)
	}
	if second.Operation != schema.OpInsert {
		t.Errorf("coalesced op = %s, pending insert must stay an insert", second.Operation)
	}
	if string(second.Payload) != string(payload("v1")) {
		t.Errorf("coalesced payload = %s, want latest", second.Payload)
	}

	entries, err := q.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("queue holds %d entries, want exactly 1 after coalescing", len(entries))
	}
}

func TestUpdateBehindInFlightQueuesNewEntry(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	first := insertDoc(t, q, "doc-1")

	batch, err := q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(batch) != 1 || batch[0].EntryID != first.EntryID {
		t.Fatalf("Drain() = %v, want the insert entry", batch)
	}

	// Edit while the insert is in flight: must not touch the in-flight
	// entry.
	second, err := q.Enqueue(ctx, Mutation{
		Type:      schema.EntityDocument,
		ID:        "doc-1",
		Operation: schema.OpUpdate,
		Payload:   payload("v1"),
	})
	if err != nil {
		t.Fatalf("Enqueue(update) error = %v", err)
	}
	if second.EntryID == first.EntryID {
		t.Errorf("update coalesced into in-flight entry")
	}

	inFlight, err := q.store.GetQueueEntry(ctx, first.EntryID)
	if err != nil {
		t.Fatalf("GetQueueEntry() error = %v", err)
	}
	if inFlight.Status != schema.StatusInFlight || string(inFlight.Payload) != string(payload("v0")) {
		t.Errorf("in-flight entry mutated: %+v", inFlight)
	}

	// The follow-up entry must not drain while the first is in flight.
	batch, err = q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("second Drain() error = %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("Drain() returned %v while same entity in flight", batch)
	}
}

func TestDeleteCancelsUnsyncedInsert(t *testing.T) {
	q, st := newTestQueue(t, Config{})
	ctx := context.Background()

	insertDoc(t, q, "doc-1")

	entry, err := q.Enqueue(ctx, Mutation{
		Type:      schema.EntityDocument,
		ID:        "doc-1",
		Operation: schema.OpDelete,
	})
	if err != nil {
		t.Fatalf("Enqueue(delete) error = %v", err)
	}
	if entry != nil {
		t.Errorf("delete of unsynced insert returned entry %+v, want nil", entry)
	}

	entries, err := q.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("queue = %v, want empty after insert+delete cancellation", entries)
	}
	if _, err := st.GetEntity(ctx, schema.EntityDocument, "doc-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("entity survives cancelled insert, err = %v", err)
	}
}

func TestDeleteCoalescesPendingUpdate(t *testing.T) {
	q, st := newTestQueue(t, Config{})
	ctx := context.Background()

	// A synced entity with a pending update, then a delete.
	seed := &schema.Entity{
		ID: "doc-1", Type: schema.EntityDocument,
		RemoteVersion: 3, LocalVersion: 3,
		Content: payload("v0"), UpdatedAt: nowUTC(), SyncState: schema.StateSynced,
	}
	if err := st.PutEntity(ctx, seed); err != nil {
		t.Fatalf("PutEntity() error = %v", err)
	}

	update, err := q.Enqueue(ctx, Mutation{
		Type: schema.EntityDocument, ID: "doc-1",
		Operation: schema.OpUpdate, Payload: payload("v1"),
	})
	if err != nil {
		t.Fatalf("Enqueue(update) error = %v", err)
	}

	del, err := q.Enqueue(ctx, Mutation{
		Type: schema.EntityDocument, ID: "doc-1", Operation: schema.OpDelete,
	})
	if err != nil {
		t.Fatalf("Enqueue(delete) error = %v", err)
	}
	if del.EntryID != update.EntryID {
		t.Errorf("delete entry id = %s, want coalesced %s", del.EntryID, update.EntryID)
	}
	if del.Operation != schema.OpDelete || del.Payload != nil {
		t.Errorf("coalesced entry = %+v, want payloadless delete", del)
	}

	// The mirror row survives until acknowledgement.
	if _, err := st.GetEntity(ctx, schema.EntityDocument, "doc-1"); err != nil {
		t.Errorf("entity removed before delete acknowledged: %v", err)
	}
}

func TestDrainFIFOAcrossEntities(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	insertDoc(t, q, "doc-a")
	insertDoc(t, q, "doc-b")
	insertDoc(t, q, "doc-c")

	batch, err := q.Drain(ctx, 2)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("Drain(2) returned %d entries", len(batch))
	}
	if batch[0].EntityID != "doc-a" || batch[1].EntityID != "doc-b" {
		t.Errorf("Drain order = %s, %s; want doc-a, doc-b", batch[0].EntityID, batch[1].EntityID)
	}
}

func TestRequeueCeiling(t *testing.T) {
	q, _ := newTestQueue(t, Config{MaxAttempts: 3})
	ctx := context.Background()

	entry := insertDoc(t, q, "doc-1")

	for i := 1; i <= 2; i++ {
		if _, err := q.Drain(ctx, 1); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		got, err := q.Requeue(ctx, entry.EntryID, "timeout")
		if err != nil {
			t.Fatalf("Requeue() error = %v", err)
		}
		if got.Attempts != i {
			t.Errorf("attempts = %d, want %d", got.Attempts, i)
		}
		if got.Status != schema.StatusPending {
			t.Errorf("status after requeue %d = %s, want pending", i, got.Status)
		}
	}

	if _, err := q.Drain(ctx, 1); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	got, err := q.Requeue(ctx, entry.EntryID, "timeout")
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if got.Status != schema.StatusFailed {
		t.Errorf("status after ceiling = %s, want failed", got.Status)
	}
	if got.FailureReason != "timeout" {
		t.Errorf("failure reason = %q", got.FailureReason)
	}

	// Failed entries never drain.
	batch, err := q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("failed entry drained: %v", batch)
	}

	// But they can be retried explicitly.
	if err := q.RetryFailed(ctx, entry.EntryID); err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	batch, err = q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(batch) != 1 || batch[0].Attempts != 0 {
		t.Errorf("after retry batch = %v, want one entry with reset attempts", batch)
	}
}

func TestRecoverResetsInFlight(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	insertDoc(t, q, "doc-1")
	if _, err := q.Drain(ctx, 1); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	// Simulate restart: recover turns in-flight back into pending.
	if err := q.Recover(ctx); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	batch, err := q.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() after recover error = %v", err)
	}
	if len(batch) != 1 {
		t.Errorf("Drain() after recover = %v, want the recovered entry", batch)
	}
}

func TestAcknowledgeRemovesEntry(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	entry := insertDoc(t, q, "doc-1")
	if _, err := q.Drain(ctx, 1); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if err := q.Acknowledge(ctx, entry.EntryID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("PendingCount() = %d, want 0", n)
	}
}

func TestOnEnqueueSignal(t *testing.T) {
	fired := 0
	q, _ := newTestQueue(t, Config{OnEnqueue: func() { fired++ }})

	insertDoc(t, q, "doc-1")
	if fired != 1 {
		t.Errorf("OnEnqueue fired %d times, want 1", fired)
	}
}
