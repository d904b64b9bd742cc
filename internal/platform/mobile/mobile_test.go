package mobile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/schema"
)

func TestAdapter(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer probe.Close()

	a, err := New(platform.Options{DataDir: t.TempDir(), ProbeURL: probe.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Profile != platform.ProfileMobile {
		t.Errorf("Profile = %s", a.Profile)
	}
	if !a.Monitor.Online() {
		t.Error("probe against a live endpoint should report online")
	}

	// The store is a working SQLite database.
	entry := &schema.QueueEntry{
		EntryID:      "qe-1",
		EntityType:   schema.EntityDocument,
		EntityID:     "doc-1",
		Operation:    schema.OpDelete,
		LocalVersion: 2,
		EnqueuedAt:   time.Now().UTC(),
		Status:       schema.StatusPending,
	}
	ctx := context.Background()
	if err := a.Store.PutQueueEntry(ctx, entry); err != nil {
		t.Fatalf("PutQueueEntry() error = %v", err)
	}
	got, err := a.Store.GetQueueEntry(ctx, "qe-1")
	if err != nil {
		t.Fatalf("GetQueueEntry() error = %v", err)
	}
	if got.Operation != schema.OpDelete {
		t.Errorf("Operation = %s", got.Operation)
	}
}
