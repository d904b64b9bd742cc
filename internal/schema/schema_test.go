package schema

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEntityValidate(t *testing.T) {
	valid := Entity{
		ID:            "doc-1",
		Type:          EntityDocument,
		RemoteVersion: 3,
		LocalVersion:  4,
		Content:       json.RawMessage(`{"title":"notes"}`),
		UpdatedAt:     time.Now(),
		SyncState:     StatePendingLocal,
	}

	tests := []struct {
		name    string
		mutate  func(e *Entity)
		wantErr bool
	}{
		{
			name:    "valid entity",
			mutate:  func(e *Entity) {},
			wantErr: false,
		},
		{
			name:    "missing id",
			mutate:  func(e *Entity) { e.ID = "" },
			wantErr: true,
		},
		{
			name:    "unknown type",
			mutate:  func(e *Entity) { e.Type = "spreadsheet" },
			wantErr: true,
		},
		{
			name:    "negative local version",
			mutate:  func(e *Entity) { e.LocalVersion = -1 },
			wantErr: true,
		},
		{
			name:    "unknown sync state",
			mutate:  func(e *Entity) { e.SyncState = "weird" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueueEntryValidate(t *testing.T) {
	valid := QueueEntry{
		EntryID:           "q-1",
		EntityType:        EntityDocument,
		EntityID:          "doc-1",
		Operation:         OpUpdate,
		Payload:           json.RawMessage(`{"body":"hello"}`),
		BaseRemoteVersion: 2,
		LocalVersion:      3,
		EnqueuedAt:        time.Now(),
		Status:            StatusPending,
	}

	tests := []struct {
		name    string
		mutate  func(q *QueueEntry)
		wantErr bool
	}{
		{
			name:    "valid update",
			mutate:  func(q *QueueEntry) {},
			wantErr: false,
		},
		{
			name: "valid delete",
			mutate: func(q *QueueEntry) {
				q.Operation = OpDelete
				q.Payload = nil
			},
			wantErr: false,
		},
		{
			name:    "delete with payload",
			mutate:  func(q *QueueEntry) { q.Operation = OpDelete },
			wantErr: true,
		},
		{
			name: "update without payload",
			mutate: func(q *QueueEntry) {
				q.Payload = nil
			},
			wantErr: true,
		},
		{
			name:    "missing entity id",
			mutate:  func(q *QueueEntry) { q.EntityID = "" },
			wantErr: true,
		},
		{
			name:    "unknown operation",
			mutate:  func(q *QueueEntry) { q.Operation = "upsert" },
			wantErr: true,
		},
		{
			name:    "unknown status",
			mutate:  func(q *QueueEntry) { q.Status = "paused" },
			wantErr: true,
		},
		{
			name:    "zero enqueue time",
			mutate:  func(q *QueueEntry) { q.EnqueuedAt = time.Time{} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid
			tt.mutate(&q)
			err := q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyString(t *testing.T) {
	k := Key{Type: EntityFolder, ID: "f-9"}
	if got, want := k.String(), "folder/f-9"; got != want {
		t.Errorf("Key.String() = %q, want %q", got, want)
	}
}
