// Package filestore implements the local store for the web profile, where
// no embedded SQL engine is available and records live in browser-managed
// storage. The Go rendition keeps each entity as an individual JSON file
// and the sync queue as an append-only JSONL log that is replayed on open
// and compacted when dead records pile up.
//
// Layout under the store root:
//
//	entities/{type}/{id}.json   one file per mirrored entity
//	queue.jsonl                 append-only queue log (put/delete records)
//	meta.json                   key/value metadata
//
// The embedding shell may write entity files directly; an fsnotify watcher
// invalidates the read cache when that happens so reads never serve stale
// snapshots.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
)

// compactThreshold is the minimum number of dead log records before the
// queue log is rewritten.
const compactThreshold = 64

// logRecord is one line of queue.jsonl.
type logRecord struct {
	Op      string             `json:"op"` // put, delete
	EntryID string             `json:"entry_id,omitempty"`
	Entry   *schema.QueueEntry `json:"entry,omitempty"`
}

// Store is a file-backed store.Store.
type Store struct {
	root   string
	logger *log.Logger

	mu       sync.Mutex
	queue    map[string]*schema.QueueEntry // entry_id -> entry
	dead     int                           // superseded log records since last compaction
	queueLog *os.File
	meta     map[string]string
	cache    map[schema.Key]*schema.Entity

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool
}

var _ store.Store = (*Store)(nil)

// Open creates or opens a file store rooted at dir.
//
// The queue log is replayed into memory; malformed lines are skipped and
// logged, never fatal. If logger is nil, a default logger writing to
// stderr is used.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[filestore] ", log.LstdFlags)
	}

	for _, t := range schema.EntityTypes {
		if err := os.MkdirAll(filepath.Join(dir, "entities", string(t)), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	s := &Store{
		root:   dir,
		logger: logger,
		queue:  make(map[string]*schema.QueueEntry),
		meta:   make(map[string]string),
		cache:  make(map[schema.Key]*schema.Entity),
		done:   make(chan struct{}),
	}

	if err := s.replayQueueLog(); err != nil {
		return nil, err
	}
	if err := s.loadMeta(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.queuePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue log: %w", err)
	}
	s.queueLog = f

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = watcher
	for _, t := range schema.EntityTypes {
		if err := watcher.Add(filepath.Join(dir, "entities", string(t))); err != nil {
			_ = watcher.Close()
			_ = f.Close()
			return nil, fmt.Errorf("failed to watch entity directory: %w", err)
		}
	}
	go s.watchExternalChanges()

	return s, nil
}

// watchExternalChanges drops cached entities whose backing files were
// touched by someone other than this process.
func (s *Store) watchExternalChanges() {
	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := s.keyForPath(event.Name)
			if !ok {
				continue
			}
			s.mu.Lock()
			delete(s.cache, key)
			s.mu.Unlock()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("Watcher error: %v", err)
		}
	}
}

// keyForPath maps an entity file path back to its entity key.
func (s *Store) keyForPath(path string) (schema.Key, bool) {
	if filepath.Ext(path) != ".json" {
		return schema.Key{}, false
	}
	typ := schema.EntityType(filepath.Base(filepath.Dir(path)))
	if !typ.Valid() {
		return schema.Key{}, false
	}
	id := strings.TrimSuffix(filepath.Base(path), ".json")
	return schema.Key{Type: typ, ID: id}, true
}

func (s *Store) queuePath() string { return filepath.Join(s.root, "queue.jsonl") }
func (s *Store) metaPath() string { return filepath.Join(s.root, "meta.json") }

func (s *Store) entityPath(t schema.EntityType, id string) string {
	return filepath.Join(s.root, "entities", string(t), id+".json")
}

// replayQueueLog rebuilds the in-memory queue from queue.jsonl.
func (s *Store) replayQueueLog() error {
	f, err := os.Open(s.queuePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open queue log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			s.logger.Printf("Skipping corrupt queue log line %d: %v", line, err)
			s.dead++
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Entry == nil || rec.Entry.Validate() != nil {
				s.logger.Printf("Skipping invalid queue record at line %d", line)
				s.dead++
				continue
			}
			if _, exists := s.queue[rec.Entry.EntryID]; exists {
				s.dead++
			}
			s.queue[rec.Entry.EntryID] = rec.Entry
		case "delete":
			if _, exists := s.queue[rec.EntryID]; exists {
				s.dead += 2 // the put and the delete are both dead now
				delete(s.queue, rec.EntryID)
			}
		default:
			s.logger.Printf("Skipping unknown queue record op %q at line %d", rec.Op, line)
			s.dead++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan queue log: %w", err)
	}
	return nil
}

func (s *Store) loadMeta() error {
	data, err := os.ReadFile(s.metaPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read meta file: %w", err)
	}
	if err := json.Unmarshal(data, &s.meta); err != nil {
		// A broken meta file loses the pull cursor, nothing more; the
		// next pull starts from zero and re-applies idempotently.
		s.logger.Printf("Resetting unreadable meta file: %v", err)
		s.meta = make(map[string]string)
	}
	return nil
}

// appendLog writes one record to the queue log and syncs it.
// Caller holds s.mu.
func (s *Store) appendLog(rec logRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode queue record: %w", err)
	}
	if _, err := s.queueLog.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append queue record: %w", err)
	}
	if err := s.queueLog.Sync(); err != nil {
		return fmt.Errorf("failed to sync queue log: %w", err)
	}
	return nil
}

// compactLocked rewrites queue.jsonl with only live entries.
// Caller holds s.mu.
func (s *Store) compactLocked() error {
	if s.dead < compactThreshold {
		return nil
	}

	tmp := s.queuePath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range s.queue {
		data, err := json.Marshal(logRecord{Op: "put", Entry: entry})
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to encode entry during compaction: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write compaction file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush compaction file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync compaction file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close compaction file: %w", err)
	}

	if err := s.queueLog.Close(); err != nil {
		return fmt.Errorf("failed to close queue log: %w", err)
	}
	if err := os.Rename(tmp, s.queuePath()); err != nil {
		return fmt.Errorf("failed to swap compacted queue log: %w", err)
	}
	reopened, err := os.OpenFile(s.queuePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen queue log: %w", err)
	}
	s.queueLog = reopened
	s.logger.Printf("Compacted queue log: %d live entries", len(s.queue))
	s.dead = 0
	return nil
}

// Close stops the watcher and releases file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if err := s.watcher.Close(); err != nil {
		s.logger.Printf("Error closing watcher: %v", err)
	}
	if err := s.queueLog.Close(); err != nil {
		return fmt.Errorf("failed to close queue log: %w", err)
	}
	return nil
}

// GetEntity implements store.Store.
func (s *Store) GetEntity(ctx context.Context, t schema.EntityType, id string) (*schema.Entity, error) {
	key := schema.Key{Type: t, ID: id}

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		s.mu.Unlock()
		copied := *cached
		return &copied, nil
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.entityPath(t, id))
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity %s: %w", key, err)
	}

	var e schema.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", key, err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("stored entity %s invalid: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = &e
	s.mu.Unlock()

	copied := e
	return &copied, nil
}

// PutEntity implements store.Store.
//
// The file is written to a temp name and renamed into place so a crash
// mid-write never leaves a torn record.
func (s *Store) PutEntity(ctx context.Context, e *schema.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode entity: %w", err)
	}

	path := s.entityPath(e.Type, e.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write entity %s/%s: %w", e.Type, e.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit entity %s/%s: %w", e.Type, e.ID, err)
	}

	copied := *e
	s.mu.Lock()
	s.cache[schema.KeyOf(e)] = &copied
	s.mu.Unlock()
	return nil
}

// DeleteEntity implements store.Store.
func (s *Store) DeleteEntity(ctx context.Context, t schema.EntityType, id string) error {
	err := os.Remove(s.entityPath(t, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete entity %s/%s: %w", t, id, err)
	}
	s.mu.Lock()
	delete(s.cache, schema.Key{Type: t, ID: id})
	s.mu.Unlock()
	return nil
}

// ListEntities implements store.Store.
func (s *Store) ListEntities(ctx context.Context, t schema.EntityType) ([]*schema.Entity, error) {
	types := schema.EntityTypes
	if t != "" {
		types = []schema.EntityType{t}
	}

	var entities []*schema.Entity
	for _, typ := range types {
		dir := filepath.Join(s.root, "entities", string(typ))
		files, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read entity directory: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(f.Name(), ".json")
			e, err := s.GetEntity(ctx, typ, id)
			if err != nil {
				s.logger.Printf("Skipping unreadable entity %s/%s: %v", typ, id, err)
				continue
			}
			entities = append(entities, e)
		}
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Type != entities[j].Type {
			return entities[i].Type < entities[j].Type
		}
		return entities[i].ID < entities[j].ID
	})
	return entities, nil
}

// IncrementLocalVersion implements store.Store. The store mutex makes the
// read-modify-write atomic against concurrent enqueues.
func (s *Store) IncrementLocalVersion(ctx context.Context, t schema.EntityType, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Read directly, bypassing the cache copy semantics under lock.
	data, err := os.ReadFile(s.entityPath(t, id))
	if os.IsNotExist(err) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read entity %s/%s: %w", t, id, err)
	}
	var e schema.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return 0, fmt.Errorf("failed to decode entity %s/%s: %w", t, id, err)
	}
	e.LocalVersion++

	out, err := json.MarshalIndent(&e, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode entity: %w", err)
	}
	path := s.entityPath(t, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return 0, fmt.Errorf("failed to write entity %s/%s: %w", t, id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("failed to commit entity %s/%s: %w", t, id, err)
	}
	copied := e
	s.cache[schema.Key{Type: t, ID: id}] = &copied
	return e.LocalVersion, nil
}

// PutQueueEntry implements store.Store.
func (s *Store) PutQueueEntry(ctx context.Context, entry *schema.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}

	copied := *entry
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if err := s.appendLog(logRecord{Op: "put", Entry: &copied}); err != nil {
		return err
	}
	if _, exists := s.queue[copied.EntryID]; exists {
		s.dead++
	}
	s.queue[copied.EntryID] = &copied
	return s.compactLocked()
}

// GetQueueEntry implements store.Store.
func (s *Store) GetQueueEntry(ctx context.Context, entryID string) (*schema.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[entryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

// DeleteQueueEntry implements store.Store.
func (s *Store) DeleteQueueEntry(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.queue[entryID]; !ok {
		return nil
	}
	if err := s.appendLog(logRecord{Op: "delete", EntryID: entryID}); err != nil {
		return err
	}
	delete(s.queue, entryID)
	s.dead += 2
	return s.compactLocked()
}

// ListQueueEntries implements store.Store.
func (s *Store) ListQueueEntries(ctx context.Context) ([]*schema.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*schema.QueueEntry, 0, len(s.queue))
	for _, entry := range s.queue {
		copied := *entry
		entries = append(entries, &copied)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].EntryID < entries[j].EntryID
	})
	return entries, nil
}

// PendingEntryForKey implements store.Store.
func (s *Store) PendingEntryForKey(ctx context.Context, key schema.Key) (*schema.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *schema.QueueEntry
	for _, entry := range s.queue {
		if entry.Status != schema.StatusPending || entry.Key() != key {
			continue
		}
		if latest == nil || entry.EnqueuedAt.After(latest.EnqueuedAt) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

// Meta implements store.Store.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.meta[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

// SetMeta implements store.Store.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value

	data, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode meta: %w", err)
	}
	tmp := s.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write meta file: %w", err)
	}
	if err := os.Rename(tmp, s.metaPath()); err != nil {
		return fmt.Errorf("failed to commit meta file: %w", err)
	}
	return nil
}
