// Package remote defines the backend collaborator: the single logical
// source of truth the sync engine pushes mutations to and pulls canonical
// state from.
//
// Errors are typed so the engine can tell a conflict (resolve and rebase)
// from a transient failure (retry with backoff) from a permanent rejection
// (park the entry). A backend that only returned generic errors would
// force last-write-wins data loss, which is exactly what this engine
// exists to avoid.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
)

// PushResult is the backend's acknowledgement of one delivered mutation.
type PushResult struct {
	// RemoteVersion is the server-assigned revision after applying the
	// mutation.
	RemoteVersion int64 `json:"remote_version"`
}

// Change is one remote record, as delivered by the pull path or embedded
// in a conflict response.
type Change struct {
	EntityType    schema.EntityType `json:"entity_type"`
	EntityID      string            `json:"entity_id"`
	RemoteVersion int64             `json:"remote_version"`
	Deleted       bool              `json:"deleted,omitempty"`
	Content       json.RawMessage   `json:"content,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Backend is the remote sync API.
//
// Push must be idempotent per entity and operation: the engine delivers
// at least once, and a crash between dispatch and acknowledgement replays
// the entry. The server deduplicates by entity id and version.
type Backend interface {
	// Push delivers one queue entry. On success the result carries the
	// canonical remote version. Failure modes are distinguished by
	// error type: *ConflictError, *TransientError, *PermanentError.
	Push(ctx context.Context, entry *schema.QueueEntry) (*PushResult, error)

	// Pull returns entities whose remote version is greater than since,
	// in ascending version order.
	Pull(ctx context.Context, since int64) ([]Change, error)
}

// ConflictError reports that the server's revision moved past the
// revision the local mutation was based on.
type ConflictError struct {
	// RemoteVersion is the server's current revision.
	RemoteVersion int64

	// Snapshot is the server's current record, so the engine can refresh
	// the local baseline without a follow-up fetch. May be nil when the
	// backend cannot supply it inline; the engine then pulls.
	Snapshot *Change
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: remote version is %d", e.RemoteVersion)
}

// TransientError wraps a failure worth retrying: timeouts, 5xx responses,
// connections dropped mid-request.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a rejection that retrying cannot fix: validation
// or authorization failures.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("backend rejected request (%d): %s", e.Status, e.Reason)
}

// AsConflict returns the conflict details when err is a conflict.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a permanent rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
