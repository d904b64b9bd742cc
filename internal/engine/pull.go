package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/inkwell-app/inkwell-sync/internal/store"
)

// pull fetches remote changes past the durable cursor and applies them.
// The cursor advances after each applied change, so an interrupted pull
// resumes where it stopped instead of refetching from the beginning.
func (e *Engine) pull(ctx context.Context) error {
	since, err := e.pullCursor(ctx)
	if err != nil {
		return err
	}

	changes, err := e.cfg.Backend.Pull(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to pull changes since %d: %w", since, err)
	}
	if len(changes) == 0 {
		return nil
	}

	applied := 0
	for i := range changes {
		ok, err := e.applyRemote(ctx, &changes[i])
		if err != nil {
			return err
		}
		if !ok {
			// Deferred to an in-flight push response; stop here so the
			// cursor does not move past it, and retry the remainder on
			// the next wake.
			e.pullWanted.Store(true)
			break
		}
		applied++
		if changes[i].RemoteVersion > since {
			since = changes[i].RemoteVersion
			if err := e.setPullCursor(ctx, since); err != nil {
				return err
			}
		}
	}

	e.logger.Printf("Applied %d of %d remote changes, cursor at %d", applied, len(changes), since)
	return nil
}

func (e *Engine) pullCursor(ctx context.Context) (int64, error) {
	raw, err := e.cfg.Store.Meta(ctx, store.MetaPullCursor)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pull cursor: %w", err)
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A garbled cursor means a full refetch, which the idempotent
		// apply path absorbs.
		e.logger.Printf("Ignoring malformed pull cursor %q", raw)
		return 0, nil
	}
	return cursor, nil
}

func (e *Engine) setPullCursor(ctx context.Context, cursor int64) error {
	if err := e.cfg.Store.SetMeta(ctx, store.MetaPullCursor, strconv.FormatInt(cursor, 10)); err != nil {
		return fmt.Errorf("failed to store pull cursor: %w", err)
	}
	return nil
}
