// Package engine implements the sync provider: the coordinator that
// drains the durable queue against the remote backend, applies the
// backend's responses to the local mirror, and reconciles remote
// changes pulled the other way.
//
// The engine is a single drive loop reading one signal channel. Every
// wake source feeds that channel: a local enqueue, an offline-to-online
// edge, the periodic tickers, the backend's change feed, a completed
// sign-in. Each pass pushes what the queue will release and pulls when
// a pull is wanted. Per-entity ordering is the queue's job (Drain skips
// keys with an entry already in flight); the engine is free to dispatch
// the released batch concurrently.
//
// Nothing in the engine is persistent. All durable state lives in the
// store, so a crash at any point resumes from whatever the queue and
// mirror contain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/auth"
	"github.com/inkwell-app/inkwell-sync/internal/netmon"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/queue"
	"github.com/inkwell-app/inkwell-sync/internal/remote"
	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
)

// Defaults for Config fields left zero.
const (
	DefaultBatchSize    = 8
	DefaultPollInterval = 30 * time.Second
	DefaultPullInterval = time.Minute
)

// Config holds the engine's collaborators and tuning knobs.
type Config struct {
	// Queue, Store, Backend, Monitor, and Auth are required.
	Queue   *queue.Queue
	Store   store.Store
	Backend remote.Backend
	Monitor netmon.Monitor
	Auth    auth.Source

	// Notifier receives user-facing notices (entry parked as failed,
	// entity turned conflicted). Optional.
	Notifier platform.Notifier

	// BatchSize bounds how many entries one drain releases.
	BatchSize int

	// PollInterval is the idle wake cadence for the push path.
	PollInterval time.Duration

	// PullInterval is how often a pull is forced even without a change
	// notification. Polling is the safety net; the change feed is the
	// fast path.
	PullInterval time.Duration

	// Backoff shapes retry delays after transient failures.
	Backoff Backoff

	// Logger for engine activity. Defaults to stderr.
	Logger *log.Logger
}

// Engine is the sync provider. Create with New, then Start.
type Engine struct {
	cfg    Config
	logger *log.Logger

	signal     chan struct{}
	pullWanted atomic.Bool

	// retryAt gates the push path after a transient failure. The online
	// edge clears it: fresh connectivity invalidates the old failure.
	mu      sync.Mutex
	retryAt time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	unsubs  []func()
	started bool
}

// New creates an engine. Call Start to begin syncing.
func New(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Store == nil || cfg.Backend == nil || cfg.Monitor == nil || cfg.Auth == nil {
		return nil, fmt.Errorf("queue, store, backend, monitor and auth are all required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = DefaultPullInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start recovers the queue, subscribes to wake sources, and launches
// the drive loop.
func (e *Engine) Start() error {
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	// Entries stranded in flight by the previous process go back to
	// pending before anything dispatches.
	if err := e.cfg.Queue.Recover(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to recover queue: %w", err)
	}

	e.unsubs = append(e.unsubs, e.cfg.Monitor.OnStatusChange(func(online bool) {
		if online {
			// A backoff computed against the dead connection does not
			// apply to the new one; catch up on remote changes too.
			e.clearBackoff()
			e.pullWanted.Store(true)
			e.Kick()
		}
	}))
	e.unsubs = append(e.unsubs, e.cfg.Auth.OnChange(func(authenticated bool) {
		if authenticated {
			e.pullWanted.Store(true)
			e.Kick()
		}
	}))

	go e.run(ctx)

	// Flush whatever accumulated while the process was down.
	e.pullWanted.Store(true)
	e.Kick()
	return nil
}

// Kick requests a sync pass. Safe from any goroutine; coalesces with
// passes already requested.
func (e *Engine) Kick() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// RequestPull marks a pull as wanted and wakes the loop. Wired to the
// backend's change feed.
func (e *Engine) RequestPull() {
	e.pullWanted.Store(true)
	e.Kick()
}

// Close stops the drive loop and waits for it to exit. In-flight
// entries stay in flight; the next Start recovers them.
func (e *Engine) Close() error {
	if !e.started {
		return nil
	}
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.cancel()
	<-e.done
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()
	pull := time.NewTicker(e.cfg.PullInterval)
	defer pull.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.signal:
		case <-poll.C:
		case <-pull.C:
			e.pullWanted.Store(true)
		}
		e.pass(ctx)
	}
}

// pass performs one sync pass: push, then pull if wanted. Suspended
// entirely while offline or signed out; the queue keeps accepting
// writes and the backlog flushes on the next edge.
func (e *Engine) pass(ctx context.Context) {
	if !e.cfg.Monitor.Online() {
		return
	}
	if _, ok := e.cfg.Auth.Current(); !ok {
		return
	}

	if e.dispatchAllowed() {
		e.push(ctx)
	}
	if e.pullWanted.Swap(false) {
		if err := e.pull(ctx); err != nil {
			e.logger.Printf("Pull failed: %v", err)
			// Try again on the next wake.
			e.pullWanted.Store(true)
		}
	}
}

// push drains and dispatches until the queue releases nothing or a
// transient failure starts a backoff window.
func (e *Engine) push(ctx context.Context) {
	for {
		batch, err := e.cfg.Queue.Drain(ctx, e.cfg.BatchSize)
		if err != nil {
			e.logger.Printf("Drain failed: %v", err)
			return
		}
		if len(batch) == 0 {
			return
		}

		var wg sync.WaitGroup
		for _, entry := range batch {
			wg.Add(1)
			go func(entry *schema.QueueEntry) {
				defer wg.Done()
				e.dispatch(ctx, entry)
			}(entry)
		}
		wg.Wait()

		if !e.dispatchAllowed() {
			return
		}
	}
}

// dispatch delivers one entry and routes the outcome: acknowledge,
// conflict resolution, retry with backoff, or park.
func (e *Engine) dispatch(ctx context.Context, entry *schema.QueueEntry) {
	result, err := e.cfg.Backend.Push(ctx, entry)
	if err == nil {
		if aerr := e.acknowledge(ctx, entry, result); aerr != nil {
			// The push landed; only the local bookkeeping failed. The
			// entry must not stay stranded in flight, where it would
			// block every later entry for its key until a restart.
			// Redelivery is safe: the backend deduplicates by entity
			// and version.
			e.requeueTransient(ctx, entry, fmt.Sprintf("acknowledgement not applied: %v", aerr))
		}
		return
	}

	if ce, ok := remote.AsConflict(err); ok {
		if rerr := e.resolveConflict(ctx, entry, ce); rerr != nil {
			e.logger.Printf("Failed to resolve conflict for %s: %v", entry.Key(), rerr)
			e.requeueTransient(ctx, entry, rerr.Error())
		}
		return
	}

	if remote.IsPermanent(err) {
		if ferr := e.cfg.Queue.Fail(ctx, entry.EntryID, err.Error()); ferr != nil {
			e.logger.Printf("Failed to park entry %s: %v", entry.EntryID, ferr)
			return
		}
		e.notify("Sync failed", fmt.Sprintf("%s was rejected by the server: %v", entry.Key(), err))
		return
	}

	// Transient failures and anything unclassified retry with backoff;
	// dropping an edit over a garbled error would be worse than an
	// extra round trip.
	e.requeueTransient(ctx, entry, err.Error())
}

func (e *Engine) requeueTransient(ctx context.Context, entry *schema.QueueEntry, reason string) {
	requeued, err := e.cfg.Queue.Requeue(ctx, entry.EntryID, reason)
	if err != nil {
		e.logger.Printf("Failed to requeue entry %s: %v", entry.EntryID, err)
		return
	}
	if requeued.Status == schema.StatusFailed {
		e.notify("Sync failed", fmt.Sprintf("%s could not be synced after %d attempts", entry.Key(), requeued.Attempts))
		return
	}

	delay := e.cfg.Backoff.Delay(requeued.Attempts)
	e.deferDispatch(delay)
	e.logger.Printf("Transient failure for %s (attempt %d), retrying in %s: %s",
		entry.Key(), requeued.Attempts, delay, reason)
}

// acknowledge applies a successful push back to the local mirror and
// removes the delivered entry.
func (e *Engine) acknowledge(ctx context.Context, entry *schema.QueueEntry, result *remote.PushResult) error {
	if entry.Operation == schema.OpDelete {
		if err := e.cfg.Store.DeleteEntity(ctx, entry.EntityType, entry.EntityID); err != nil {
			return fmt.Errorf("failed to remove acknowledged entity: %w", err)
		}
		return e.cfg.Queue.Acknowledge(ctx, entry.EntryID)
	}

	entity, err := e.cfg.Store.GetEntity(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load acknowledged entity: %w", err)
	}
	entity.RemoteVersion = result.RemoteVersion

	// The entity settles only when no follow-up edit queued behind this
	// one; a pending entry means the mirror already holds newer local
	// content. A conflicted entity stays conflicted until the user
	// reviews it, however many acknowledgements arrive.
	_, perr := e.cfg.Store.PendingEntryForKey(ctx, entry.Key())
	switch {
	case errors.Is(perr, store.ErrNotFound):
		// After a conflict rebase the mirror holds the remote snapshot;
		// the server has now accepted the rebased edit, so the mirror
		// converges to the delivered payload. In the ordinary optimistic
		// case this is a no-op.
		entity.Content = entry.Payload
		if entity.SyncState == schema.StatePendingLocal {
			entity.SyncState = schema.StateSynced
		}
	case perr != nil:
		return fmt.Errorf("failed to check pending entry: %w", perr)
	}

	if err := e.cfg.Store.PutEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to store acknowledged entity: %w", err)
	}
	return e.cfg.Queue.Acknowledge(ctx, entry.EntryID)
}

func (e *Engine) dispatchAllowed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !time.Now().Before(e.retryAt)
}

func (e *Engine) deferDispatch(delay time.Duration) {
	e.mu.Lock()
	until := time.Now().Add(delay)
	if until.After(e.retryAt) {
		e.retryAt = until
	}
	e.mu.Unlock()
	time.AfterFunc(delay, e.Kick)
}

func (e *Engine) clearBackoff() {
	e.mu.Lock()
	e.retryAt = time.Time{}
	e.mu.Unlock()
}

func (e *Engine) notify(title, body string) {
	if e.cfg.Notifier == nil {
		return
	}
	if err := e.cfg.Notifier.Notify(title, body); err != nil {
		e.logger.Printf("Failed to deliver notice %q: %v", title, err)
	}
}

// Resolve clears an entity's conflicted flag after the user reviewed
// it. The entity settles to synced when nothing is pending for it,
// pending-local otherwise. Standalone so the operator CLI can run it
// against the store without a live engine.
func Resolve(ctx context.Context, st store.Store, t schema.EntityType, id string) error {
	entity, err := st.GetEntity(ctx, t, id)
	if err != nil {
		return fmt.Errorf("failed to load entity: %w", err)
	}
	if entity.SyncState != schema.StateConflicted {
		return fmt.Errorf("%s/%s is %s, not conflicted", t, id, entity.SyncState)
	}

	_, perr := st.PendingEntryForKey(ctx, schema.Key{Type: t, ID: id})
	switch {
	case errors.Is(perr, store.ErrNotFound):
		entity.SyncState = schema.StateSynced
	case perr != nil:
		return fmt.Errorf("failed to check pending entry: %w", perr)
	default:
		entity.SyncState = schema.StatePendingLocal
	}
	if err := st.PutEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to store resolved entity: %w", err)
	}
	return nil
}
