// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

// Package offlinestore provides the durable client-side store for the
// offline sync subsystem: cached snapshots of server collections, a queue
// of pending mutations captured while disconnected, and small key/value
// settings. All state lives in a single SQLite database file so it survives
// app restarts.
package offlinestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Collection identifies a cached server-side collection.
type Collection string

const (
	CollectionMembers     Collection = "members"
	CollectionEvents      Collection = "events"
	CollectionUserProfile Collection = "user_profile"
	CollectionBibleVerses Collection = "bible_verses"
)

// Kind identifies what a pending mutation represents and therefore how the
// sync engine replays it.
type Kind string

const (
	KindAttendance   Kind = "attendance"
	KindMemberUpdate Kind = "member_update"
	KindEventUpdate  Kind = "event_update"
)

var (
	// ErrStorageUnavailable is returned when the underlying SQLite database
	// cannot be opened at all. Callers are expected to degrade to
	// online-only operation rather than fail.
	ErrStorageUnavailable = errors.New("offline storage unavailable")

	ErrInvalidCollection = errors.New("invalid collection")
	ErrInvalidKind       = errors.New("invalid mutation kind")
	// ErrMethodRequired is returned when an update-kind mutation is enqueued
	// without an HTTP method.
	ErrMethodRequired = errors.New("method required for update mutations")
)

// Entity is a cached snapshot of a server-side domain object. The payload is
// opaque to the store; only the id matters for keying.
type Entity struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// PendingMutation is a durable record of a write performed while the
// operation could not be confirmed against the server. Rows are immutable
// after insert; they are deleted on successful replay or left in place to
// retry later.
type PendingMutation struct {
	ID         int64           `json:"id"`
	Kind       Kind            `json:"kind"`
	Method     string          `json:"method,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Store is the single durable resource of the sync subsystem. It is safe for
// concurrent use; SQLite serializes writes underneath.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	opened bool
}

// New creates a store backed by the SQLite database at path. The database is
// not opened until Open (or the first operation that lazily opens it).
// Pass ":memory:" for an ephemeral store in tests.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

func validCollection(c Collection) bool {
	switch c {
	case CollectionMembers, CollectionEvents, CollectionUserProfile, CollectionBibleVerses:
		return true
	}
	return false
}

func validKind(k Kind) bool {
	switch k {
	case KindAttendance, KindMemberUpdate, KindEventUpdate:
		return true
	}
	return false
}

// Open opens (or creates) the database and its namespaces. It is idempotent:
// subsequent calls are no-ops once the store is open. A failure to open is
// reported as ErrStorageUnavailable so callers can disable offline features
// without crashing.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx)
}

func (s *Store) openLocked(ctx context.Context) error {
	if s.opened {
		return nil
	}

	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// One connection keeps namespace operations logically sequential and
	// makes ":memory:" databases behave with the connection pool.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	// WAL keeps readers from blocking the replay loop's deletes.
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: enable WAL mode: %v", ErrStorageUnavailable, err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS cached_entities (
			collection  TEXT NOT NULL,
			id          TEXT NOT NULL,
			payload     TEXT NOT NULL,
			cached_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (collection, id)
		)`,

		// Single queue with a kind discriminant. Replay order within a kind
		// is ascending id, which equals enqueue order.
		`CREATE TABLE IF NOT EXISTS pending_mutations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL CHECK (kind IN ('attendance','member_update','event_update')),
			method      TEXT,
			target_id   TEXT,
			payload     TEXT NOT NULL,
			enqueued_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS app_settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			_ = db.Close()
			return fmt.Errorf("%w: create namespace: %v", ErrStorageUnavailable, err)
		}
	}

	s.db = db
	s.opened = true
	s.logger.Debug("offline store opened", "path", s.path)
	return nil
}

// handle returns the open database, lazily opening the store first if
// needed. Read and write operations go through here so an uninitialized
// store initializes instead of failing.
func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

// Ready reports whether the store has been opened successfully.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// ReplaceCollection atomically clears all cached records of a collection and
// inserts the given records, then records the refresh time in the
// last_sync_<collection> setting. Used after a successful network fetch.
func (s *Store) ReplaceCollection(ctx context.Context, collection Collection, records []Entity) error {
	if !validCollection(collection) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin refresh transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cached_entities WHERE collection = ?`, string(collection)); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}
	for _, rec := range records {
		payload := rec.Payload
		if payload == nil {
			payload = json.RawMessage(`{}`)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cached_entities (collection, id, payload) VALUES (?, ?, ?)
		`, string(collection), rec.ID, string(payload)); err != nil {
			return fmt.Errorf("failed to insert cached entity %s.%s: %w", collection, rec.ID, err)
		}
	}

	if err := setSettingInTx(ctx, tx, lastSyncKey(collection), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record refresh time for %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refresh transaction: %w", err)
	}
	return nil
}

// GetCollection returns all cached records for a collection. Order is
// unspecified. A collection that was never populated yields an empty slice.
func (s *Store) GetCollection(ctx context.Context, collection Collection) ([]Entity, error) {
	if !validCollection(collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, payload FROM cached_entities WHERE collection = ?
	`, string(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var payload string
		if err := rows.Scan(&e.ID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan cached entity: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collection %s: %w", collection, err)
	}
	return out, nil
}

// EnqueueMutation appends a pending mutation and returns its locally
// assigned id. Method is required for the update kinds and ignored for
// attendance (which always replays as POST). TargetID may be empty.
func (s *Store) EnqueueMutation(ctx context.Context, kind Kind, payload json.RawMessage, method, targetID string) (int64, error) {
	if !validKind(kind) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if kind != KindAttendance && method == "" {
		return 0, ErrMethodRequired
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO pending_mutations (kind, method, target_id, payload)
		VALUES (?, ?, ?, ?)
	`, string(kind), nullableString(method), nullableString(targetID), string(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s mutation: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read mutation id: %w", err)
	}
	return id, nil
}

// ListPendingMutations returns the union of all pending queues in ascending
// id order, which preserves FIFO order within each kind.
func (s *Store) ListPendingMutations(ctx context.Context) ([]PendingMutation, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, method, target_id, payload, enqueued_at
		FROM pending_mutations
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending mutations: %w", err)
	}
	defer rows.Close()

	var out []PendingMutation
	for rows.Next() {
		var m PendingMutation
		var kind, payload, enqueuedAt string
		var method, targetID sql.NullString
		if err := rows.Scan(&m.ID, &kind, &method, &targetID, &payload, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending mutation: %w", err)
		}
		m.Kind = Kind(kind)
		m.Method = method.String
		m.TargetID = targetID.String
		m.Payload = json.RawMessage(payload)
		if t, err := time.Parse(time.RFC3339, enqueuedAt); err == nil {
			m.EnqueuedAt = t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending mutations: %w", err)
	}
	return out, nil
}

// PendingCount returns the total number of queued mutations across kinds.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending mutations: %w", err)
	}
	return n, nil
}

// RemovePendingMutation deletes one queue entry by kind and id. Removing an
// id that does not exist is a no-op, not an error.
func (s *Store) RemovePendingMutation(ctx context.Context, kind Kind, id int64) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		DELETE FROM pending_mutations WHERE kind = ? AND id = ?
	`, string(kind), id); err != nil {
		return fmt.Errorf("failed to remove pending mutation %d: %w", id, err)
	}
	return nil
}

// GetSetting returns a persisted scalar value. The second return is false
// when the key was never set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return "", false, err
	}
	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting persists a scalar value, overwriting any previous one.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func setSettingInTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LastSync returns the recorded completion time of the most recent drain.
// The second return is false when no drain has completed yet.
func (s *Store) LastSync(ctx context.Context) (time.Time, bool, error) {
	value, ok, err := s.GetSetting(ctx, SettingLastSync)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetLastSync records the completion time of a drain.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetSetting(ctx, SettingLastSync, t.UTC().Format(time.RFC3339))
}

// ClearAll wipes every namespace. Used by logout/reset flows.
func (s *Store) ClearAll(ctx context.Context) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM cached_entities`,
		`DELETE FROM pending_mutations`,
		`DELETE FROM app_settings`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database. The store may be reopened afterward.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	db := s.db
	s.db = nil
	return db.Close()
}

// SettingLastSync is the settings key holding the last successful drain time.
const SettingLastSync = "last_sync"

func lastSyncKey(c Collection) string {
	return "last_sync_" + string(c)
}

// LastCollectionSync returns when a collection cache was last refreshed.
func (s *Store) LastCollectionSync(ctx context.Context, collection Collection) (time.Time, bool, error) {
	value, ok, err := s.GetSetting(ctx, lastSyncKey(collection))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
