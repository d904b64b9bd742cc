package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwell-app/inkwell-sync/internal/remote"
	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
)

// Conflict policy: remote wins for structure, the local edit survives.
//
// The remote snapshot becomes the stored baseline, the entity is marked
// conflicted so the UI can surface a review affordance, and the local
// edit is re-queued as a fresh pending entry based on the new remote
// version. No keystroke is ever dropped; the user decides what the
// merged result should look like. Rich-text bodies get no field-level
// merge because without an OT/CRDT layer a structural merge would
// produce documents nobody wrote.

// resolveConflict handles a 409 from the push path. entry is the
// in-flight entry the backend rejected.
func (e *Engine) resolveConflict(ctx context.Context, entry *schema.QueueEntry, ce *remote.ConflictError) error {
	snap := ce.Snapshot
	if snap == nil {
		// The backend could not inline its record; fetch it. Other
		// changes in the response are left for the pull path, which
		// resumes from the durable cursor.
		changes, err := e.cfg.Backend.Pull(ctx, entry.BaseRemoteVersion)
		if err != nil {
			return fmt.Errorf("failed to fetch conflicting record: %w", err)
		}
		for i := range changes {
			if changes[i].EntityType == entry.EntityType && changes[i].EntityID == entry.EntityID {
				snap = &changes[i]
				break
			}
		}
		if snap == nil {
			return fmt.Errorf("backend reported conflict at version %d for %s but returned no record",
				ce.RemoteVersion, entry.Key())
		}
	}

	// Both sides deleted: converged, nothing to preserve.
	if snap.Deleted && entry.Operation == schema.OpDelete {
		if err := e.cfg.Store.DeleteEntity(ctx, entry.EntityType, entry.EntityID); err != nil {
			return fmt.Errorf("failed to remove entity: %w", err)
		}
		return e.cfg.Queue.Acknowledge(ctx, entry.EntryID)
	}

	entity, err := e.cfg.Store.GetEntity(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load conflicted entity: %w", err)
	}

	if !snap.Deleted {
		entity.Content = snap.Content
		entity.UpdatedAt = snap.UpdatedAt
	}
	// When the remote deleted the entity the local content stays: it is
	// the only copy of the user's edit.
	entity.RemoteVersion = snap.RemoteVersion
	entity.SyncState = schema.StateConflicted

	version, err := e.cfg.Store.IncrementLocalVersion(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		return fmt.Errorf("failed to bump local version: %w", err)
	}
	entity.LocalVersion = version
	if err := e.cfg.Store.PutEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to store refreshed baseline: %w", err)
	}

	// Rebase before removing the original. A crash in between leaves a
	// duplicate, which at-least-once delivery already tolerates; the
	// reverse order could lose the edit.
	if _, err := e.cfg.Queue.EnqueueRebased(ctx, entry, entity.RemoteVersion, version); err != nil {
		return err
	}
	if err := e.cfg.Queue.Acknowledge(ctx, entry.EntryID); err != nil {
		return err
	}

	e.logger.Printf("Conflict on %s: remote version %d applied, local edit re-queued", entry.Key(), entity.RemoteVersion)
	e.notify("Sync conflict", fmt.Sprintf("%s changed on the server; your edit is preserved and awaiting review", entry.Key()))
	return nil
}

// applyRemote merges one pulled record into the local mirror. The pull
// path and the push conflict path resolve divergence the same way; this
// is the pull side of that shared policy.
//
// The returned bool reports whether the pull cursor may advance past
// this change. It is false only when the change was deferred to an
// in-flight push response.
func (e *Engine) applyRemote(ctx context.Context, ch *remote.Change) (bool, error) {
	key := schema.Key{Type: ch.EntityType, ID: ch.EntityID}

	entity, err := e.cfg.Store.GetEntity(ctx, ch.EntityType, ch.EntityID)
	missing := errors.Is(err, store.ErrNotFound)
	if err != nil && !missing {
		return false, fmt.Errorf("failed to load entity: %w", err)
	}

	// Already applied. Pulls replay freely; applying the same change
	// twice must be a no-op.
	if !missing && ch.RemoteVersion <= entity.RemoteVersion {
		return true, nil
	}

	// An entry in flight for this key settles through its push response
	// (success or 409); applying the pulled change underneath it would
	// race the acknowledgement. The cursor must not advance past the
	// deferred change.
	inFlight, err := e.keyInFlight(ctx, key)
	if err != nil {
		return false, err
	}
	if inFlight {
		return false, nil
	}

	pending, perr := e.cfg.Store.PendingEntryForKey(ctx, key)
	if perr != nil && !errors.Is(perr, store.ErrNotFound) {
		return false, fmt.Errorf("failed to check pending entry: %w", perr)
	}

	switch {
	case pending == nil && ch.Deleted:
		if missing {
			return true, nil
		}
		if err := e.cfg.Store.DeleteEntity(ctx, ch.EntityType, ch.EntityID); err != nil {
			return false, fmt.Errorf("failed to apply remote delete: %w", err)
		}
		return true, nil

	case pending == nil:
		if missing {
			entity = &schema.Entity{ID: ch.EntityID, Type: ch.EntityType}
		}
		entity.Content = ch.Content
		entity.RemoteVersion = ch.RemoteVersion
		entity.UpdatedAt = ch.UpdatedAt
		if entity.SyncState != schema.StateConflicted {
			entity.SyncState = schema.StateSynced
		}
		if err := e.cfg.Store.PutEntity(ctx, entity); err != nil {
			return false, fmt.Errorf("failed to apply remote change: %w", err)
		}
		return true, nil

	case ch.Deleted && pending.Operation == schema.OpDelete:
		// Converged: both sides deleted.
		if err := e.cfg.Store.DeleteEntity(ctx, ch.EntityType, ch.EntityID); err != nil {
			return false, fmt.Errorf("failed to apply remote delete: %w", err)
		}
		if err := e.cfg.Queue.Acknowledge(ctx, pending.EntryID); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Local edit pending against a baseline the server moved past:
		// same policy as a push 409.
		if !ch.Deleted {
			entity.Content = ch.Content
			entity.UpdatedAt = ch.UpdatedAt
		}
		entity.RemoteVersion = ch.RemoteVersion
		entity.SyncState = schema.StateConflicted

		version, err := e.cfg.Store.IncrementLocalVersion(ctx, ch.EntityType, ch.EntityID)
		if err != nil {
			return false, fmt.Errorf("failed to bump local version: %w", err)
		}
		entity.LocalVersion = version
		if err := e.cfg.Store.PutEntity(ctx, entity); err != nil {
			return false, fmt.Errorf("failed to store refreshed baseline: %w", err)
		}

		if _, err := e.cfg.Queue.EnqueueRebased(ctx, pending, ch.RemoteVersion, version); err != nil {
			return false, err
		}
		if err := e.cfg.Queue.Acknowledge(ctx, pending.EntryID); err != nil {
			return false, err
		}

		e.logger.Printf("Conflict on %s via pull: remote version %d applied, local edit re-queued", key, ch.RemoteVersion)
		e.notify("Sync conflict", fmt.Sprintf("%s changed on the server; your edit is preserved and awaiting review", key))
		return true, nil
	}
}

func (e *Engine) keyInFlight(ctx context.Context, key schema.Key) (bool, error) {
	entries, err := e.cfg.Queue.Entries(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list queue entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Status == schema.StatusInFlight && entry.Key() == key {
			return true, nil
		}
	}
	return false, nil
}
