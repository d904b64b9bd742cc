// Package schema defines the record types shared by the local store, the
// sync queue, and the sync engine.
package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies the kind of record being synchronized.
type EntityType string

const (
	// EntityDocument is a rich-text document.
	EntityDocument EntityType = "document"

	// EntityFolder is a folder grouping documents.
	EntityFolder EntityType = "folder"

	// EntityCollaboratorLink is a sharing record linking a collaborator
	// to a document or folder.
	EntityCollaboratorLink EntityType = "collaborator_link"

	// EntityAttachmentMeta is metadata for a binary attachment.
	// Attachment bytes are not synchronized through the queue.
	EntityAttachmentMeta EntityType = "attachment_meta"
)

// EntityTypes lists all valid entity types.
var EntityTypes = []EntityType{
	EntityDocument,
	EntityFolder,
	EntityCollaboratorLink,
	EntityAttachmentMeta,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SyncState describes where an entity stands relative to the remote backend.
type SyncState string

const (
	// StateSynced means the local copy matches the last observed remote
	// revision and no local edits are pending.
	StateSynced SyncState = "synced"

	// StatePendingLocal means local edits exist that have not been
	// acknowledged by the backend yet.
	StatePendingLocal SyncState = "pending_local_changes"

	// StateConflicted means the backend rejected a local edit because the
	// remote revision moved; the remote snapshot has been applied locally
	// and the local edit is re-queued on top of it, awaiting user review.
	StateConflicted SyncState = "conflicted"
)

// Entity is the local mirror of one remote record.
//
// RemoteVersion is the server-assigned revision last applied locally;
// LocalVersion is a per-entity counter bumped on every local mutation.
// When SyncState is StateSynced the two describe the same revision.
type Entity struct {
	ID            string          `json:"id"`
	Type          EntityType      `json:"type"`
	RemoteVersion int64           `json:"remote_version"`
	LocalVersion  int64           `json:"local_version"`
	Content       json.RawMessage `json:"content,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SyncState     SyncState       `json:"sync_state"`
}

// Validate checks the entity for storable field values.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown entity type: %q", e.Type)
	}
	if e.LocalVersion < 0 {
		return fmt.Errorf("local_version must be non-negative (got %d)", e.LocalVersion)
	}
	if e.RemoteVersion < 0 {
		return fmt.Errorf("remote_version must be non-negative (got %d)", e.RemoteVersion)
	}
	switch e.SyncState {
	case StateSynced, StatePendingLocal, StateConflicted:
	default:
		return fmt.Errorf("unknown sync state: %q", e.SyncState)
	}
	return nil
}

// Key identifies an entity across types.
type Key struct {
	Type EntityType
	ID   string
}

// String renders the key as "type/id" for logs.
func (k Key) String() string {
	return string(k.Type) + "/" + k.ID
}

// KeyOf returns the key for an entity.
func KeyOf(e *Entity) Key {
	return Key{Type: e.Type, ID: e.ID}
}
