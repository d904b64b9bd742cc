// Package sqlite implements the local store on an embedded SQLite database.
//
// The database runs in WAL mode so status reads stay concurrent with sync
// writes. The same implementation serves the native and mobile profiles;
// the profile package registers its database/sql driver and passes the
// driver name in.
//
// Schema:
//   - entities: the synced-entity mirror, keyed by (entity_type, id)
//   - sync_queue: durable pending mutations, keyed by entry_id
//   - sync_meta: key/value metadata (pull cursor)
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
)

// Store is a SQLite-backed store.Store.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database at path using the named driver.
//
// The caller MUST call Close() when done. If logger is nil, a default
// logger writing to stderr is used.
//
// Example:
//
//	st, err := sqlite.Open("inkwell/sync.db", "sqlite3", nil)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path, driver string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas ride in the DSN so every pooled connection gets them; a
	// PRAGMA issued over the pool only configures whichever connection
	// happened to run it. WAL keeps readers unblocked during sync
	// writes, busy_timeout makes concurrent writers wait out the lock
	// instead of failing with SQLITE_BUSY.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(on)"
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: logger}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates tables and indexes. Idempotent.
func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		remote_version INTEGER NOT NULL DEFAULT 0,
		local_version INTEGER NOT NULL DEFAULT 0,
		content TEXT,
		updated_at TEXT NOT NULL,
		sync_state TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		entry_id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT,
		base_remote_version INTEGER NOT NULL DEFAULT 0,
		local_version INTEGER NOT NULL DEFAULT 0,
		enqueued_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		failure_reason TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_state ON entities(sync_state);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON sync_queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_type, entity_id, status);
	CREATE INDEX IF NOT EXISTS idx_queue_order ON sync_queue(enqueued_at);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// GetEntity implements store.Store.
func (s *Store) GetEntity(ctx context.Context, t schema.EntityType, id string) (*schema.Entity, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT entity_type, id, remote_version, local_version, content, updated_at, sync_state
		FROM entities WHERE entity_type = ? AND id = ?`, string(t), id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity %s/%s: %w", t, id, err)
	}
	return e, nil
}

// PutEntity implements store.Store.
func (s *Store) PutEntity(ctx context.Context, e *schema.Entity) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entity: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, remote_version, local_version, content, updated_at, sync_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			remote_version = excluded.remote_version,
			local_version = excluded.local_version,
			content = excluded.content,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state`,
		string(e.Type), e.ID, e.RemoteVersion, e.LocalVersion,
		string(e.Content), e.UpdatedAt.UTC().Format(time.RFC3339Nano), string(e.SyncState))
	if err != nil {
		return fmt.Errorf("failed to write entity %s/%s: %w", e.Type, e.ID, err)
	}
	return nil
}

// DeleteEntity implements store.Store.
func (s *Store) DeleteEntity(ctx context.Context, t schema.EntityType, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(t), id)
	if err != nil {
		return fmt.Errorf("failed to delete entity %s/%s: %w", t, id, err)
	}
	return nil
}

// ListEntities implements store.Store.
func (s *Store) ListEntities(ctx context.Context, t schema.EntityType) ([]*schema.Entity, error) {
	query := `SELECT entity_type, id, remote_version, local_version, content, updated_at, sync_state
		FROM entities`
	args := []any{}
	if t != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY entity_type, id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*schema.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			s.logger.Printf("Skipping undecodable entity row: %v", err)
			continue
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return entities, nil
}

// IncrementLocalVersion implements store.Store.
//
// The bump-and-read is one UPDATE ... RETURNING statement, so concurrent
// callers can never observe or produce the same counter value.
func (s *Store) IncrementLocalVersion(ctx context.Context, t schema.EntityType, id string) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx, `
		UPDATE entities SET local_version = local_version + 1
		WHERE entity_type = ? AND id = ?
		RETURNING local_version`, string(t), id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment local version for %s/%s: %w", t, id, err)
	}
	return version, nil
}

// PutQueueEntry implements store.Store.
func (s *Store) PutQueueEntry(ctx context.Context, entry *schema.QueueEntry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid queue entry: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_queue
			(entry_id, entity_type, entity_id, operation, payload,
			 base_remote_version, local_version, enqueued_at, attempts, status, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			entity_id = excluded.entity_id,
			operation = excluded.operation,
			payload = excluded.payload,
			base_remote_version = excluded.base_remote_version,
			local_version = excluded.local_version,
			enqueued_at = excluded.enqueued_at,
			attempts = excluded.attempts,
			status = excluded.status,
			failure_reason = excluded.failure_reason`,
		entry.EntryID, string(entry.EntityType), entry.EntityID, string(entry.Operation),
		string(entry.Payload), entry.BaseRemoteVersion, entry.LocalVersion,
		entry.EnqueuedAt.UTC().Format(time.RFC3339Nano), entry.Attempts,
		string(entry.Status), entry.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to write queue entry %s: %w", entry.EntryID, err)
	}
	return nil
}

// GetQueueEntry implements store.Store.
func (s *Store) GetQueueEntry(ctx context.Context, entryID string) (*schema.QueueEntry, error) {
	row := s.conn.QueryRowContext(ctx, queueSelect+` WHERE entry_id = ?`, entryID)
	entry, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entry %s: %w", entryID, err)
	}
	return entry, nil
}

// DeleteQueueEntry implements store.Store.
func (s *Store) DeleteQueueEntry(ctx context.Context, entryID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry %s: %w", entryID, err)
	}
	return nil
}

const queueSelect = `
	SELECT entry_id, entity_type, entity_id, operation, payload,
	       base_remote_version, local_version, enqueued_at, attempts, status, failure_reason
	FROM sync_queue`

// ListQueueEntries implements store.Store.
func (s *Store) ListQueueEntries(ctx context.Context) ([]*schema.QueueEntry, error) {
	rows, err := s.conn.QueryContext(ctx, queueSelect+` ORDER BY enqueued_at, entry_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			// A malformed persisted entry must not take down the
			// drive loop.
			s.logger.Printf("Skipping corrupt queue row: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return entries, nil
}

// PendingEntryForKey implements store.Store.
func (s *Store) PendingEntryForKey(ctx context.Context, key schema.Key) (*schema.QueueEntry, error) {
	row := s.conn.QueryRowContext(ctx, queueSelect+`
		WHERE entity_type = ? AND entity_id = ? AND status = ?
		ORDER BY enqueued_at DESC LIMIT 1`,
		string(key.Type), key.ID, string(schema.StatusPending))
	entry, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending entry for %s: %w", key, err)
	}
	return entry, nil
}

// Meta implements store.Store.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta implements store.Store.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc scanner) (*schema.Entity, error) {
	var (
		e         schema.Entity
		typ       string
		content   sql.NullString
		updatedAt string
		state     string
	)
	if err := sc.Scan(&typ, &e.ID, &e.RemoteVersion, &e.LocalVersion, &content, &updatedAt, &state); err != nil {
		return nil, err
	}
	e.Type = schema.EntityType(typ)
	e.SyncState = schema.SyncState(state)
	if content.Valid && content.String != "" {
		e.Content = []byte(content.String)
	}
	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updatedAt, err)
	}
	e.UpdatedAt = ts

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("stored entity invalid: %w", err)
	}
	return &e, nil
}

func scanQueueEntry(sc scanner) (*schema.QueueEntry, error) {
	var (
		q          schema.QueueEntry
		typ        string
		op         string
		payload    sql.NullString
		enqueuedAt string
		status     string
		reason     sql.NullString
	)
	if err := sc.Scan(&q.EntryID, &typ, &q.EntityID, &op, &payload,
		&q.BaseRemoteVersion, &q.LocalVersion, &enqueuedAt, &q.Attempts, &status, &reason); err != nil {
		return nil, err
	}
	q.EntityType = schema.EntityType(typ)
	q.Operation = schema.Operation(op)
	q.Status = schema.EntryStatus(status)
	if payload.Valid && payload.String != "" {
		q.Payload = []byte(payload.String)
	}
	if reason.Valid {
		q.FailureReason = reason.String
	}
	ts, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("bad enqueued_at %q: %w", enqueuedAt, err)
	}
	q.EnqueuedAt = ts

	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("stored queue entry invalid: %w", err)
	}
	return &q, nil
}
