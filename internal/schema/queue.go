package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation a queue entry carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EntryStatus is the delivery state of a queue entry.
type EntryStatus string

const (
	// StatusPending means the entry is waiting to be dispatched.
	StatusPending EntryStatus = "pending"

	// StatusInFlight means the entry has been handed to the backend and
	// the response has not arrived yet. In-flight entries are never
	// mutated in place; a follow-up edit queues a new pending entry
	// behind them.
	StatusInFlight EntryStatus = "in_flight"

	// StatusFailed means the entry exhausted its retry budget or hit a
	// permanent rejection. Failed entries are kept for user-visible
	// resolution, never dropped.
	StatusFailed EntryStatus = "failed"
)

// QueueEntry is one durable pending mutation awaiting delivery.
type QueueEntry struct {
	// EntryID is assigned at enqueue time and survives coalescing: a
	// newer payload overwriting a pending entry keeps the entry id.
	EntryID string `json:"entry_id"`

	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Operation  Operation  `json:"operation"`

	// Payload holds the mutated fields for an update or the full record
	// snapshot for an insert. Empty for deletes.
	Payload json.RawMessage `json:"payload,omitempty"`

	// BaseRemoteVersion is the remote revision the mutation was made
	// against. The backend compares it to its current revision to detect
	// conflicts.
	BaseRemoteVersion int64 `json:"base_remote_version"`

	// LocalVersion is the entity's local change counter at enqueue time.
	LocalVersion int64 `json:"local_version"`

	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempts   int         `json:"attempts"`
	Status     EntryStatus `json:"status"`

	// FailureReason records why the entry parked as failed.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Key returns the entity key this entry mutates.
func (q *QueueEntry) Key() Key {
	return Key{Type: q.EntityType, ID: q.EntityID}
}

// Validate checks the entry for storable field values.
func (q *QueueEntry) Validate() error {
	if q.EntryID == "" {
		return fmt.Errorf("entry_id is required")
	}
	if q.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !q.EntityType.Valid() {
		return fmt.Errorf("unknown entity type: %q", q.EntityType)
	}
	if !q.Operation.Valid() {
		return fmt.Errorf("unknown operation: %q", q.Operation)
	}
	if q.Operation == OpDelete && len(q.Payload) > 0 {
		return fmt.Errorf("delete entries must not carry a payload")
	}
	if q.Operation != OpDelete && len(q.Payload) == 0 {
		return fmt.Errorf("%s entries require a payload", q.Operation)
	}
	switch q.Status {
	case StatusPending, StatusInFlight, StatusFailed:
	default:
		return fmt.Errorf("unknown entry status: %q", q.Status)
	}
	if q.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	return nil
}
