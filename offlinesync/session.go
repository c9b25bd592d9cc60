// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package offlinesync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jkalala/mobilechurch-sync/offlinestore"
)

// Config configures a Session.
type Config struct {
	StorePath string       // SQLite database path (":memory:" for tests)
	BaseURL   string       // remote church API base URL
	Token     TokenFunc    // bearer token provider, may be nil
	HTTP      *http.Client // optional; Transport supplies a default
	Logger    *slog.Logger
}

// Session is the single object the application wires in: it bundles the
// local store, the sync engine, and the connectivity monitor behind the
// surface the UI consumes. Storage errors never escape a Session method;
// they are logged and reads degrade to empty results, so the app keeps
// working online-only when local persistence is unavailable.
type Session struct {
	Store   *offlinestore.Store
	Engine  *Engine
	Monitor *Monitor

	logger *slog.Logger
}

// NewSession builds a session from config. Call Start before use and Stop
// (or Close) on shutdown.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := offlinestore.New(cfg.StorePath, logger)
	transport := NewTransport(cfg.BaseURL, cfg.Token)
	if cfg.HTTP != nil {
		transport.HTTP = cfg.HTTP
	}
	engine := NewEngine(store, transport, logger)
	monitor := NewMonitor(store, engine, logger)

	return &Session{
		Store:   store,
		Engine:  engine,
		Monitor: monitor,
		logger:  logger,
	}
}

// Start initializes the store and begins consuming connectivity events.
// The online argument seeds the initial connectivity state.
func (s *Session) Start(ctx context.Context, events <-chan bool, online bool) {
	s.Monitor.Start(ctx, events, online)
}

// Close stops monitoring and closes the store.
func (s *Session) Close() error {
	s.Monitor.Stop()
	return s.Store.Close()
}

// State returns the current sync state snapshot.
func (s *Session) State() State { return s.Monitor.State() }

// OnChange registers a state-change callback; see Monitor.OnChange.
func (s *Session) OnChange(fn func(State)) (unsubscribe func()) {
	return s.Monitor.OnChange(fn)
}

// Drain triggers a manual "sync now". Offline or concurrent calls coalesce
// into cheap no-ops; see Engine.Drain.
func (s *Session) Drain(ctx context.Context) (Summary, error) {
	summary, err := s.Engine.Drain(ctx)
	s.Monitor.refresh(ctx)
	return summary, err
}

// CacheCollection refreshes the offline cache for a collection after a
// successful network fetch. Storage failures are logged, not returned.
func (s *Session) CacheCollection(ctx context.Context, collection offlinestore.Collection, records []offlinestore.Entity) {
	if err := s.Store.ReplaceCollection(ctx, collection, records); err != nil {
		s.logger.Warn("failed to cache collection", "collection", collection, "error", err)
	}
}

// ReadCollection returns the cached records for a collection, or an empty
// slice when the store is unavailable or the collection was never cached.
func (s *Session) ReadCollection(ctx context.Context, collection offlinestore.Collection) []offlinestore.Entity {
	records, err := s.Store.GetCollection(ctx, collection)
	if err != nil {
		s.logger.Warn("failed to read cached collection", "collection", collection, "error", err)
		return nil
	}
	return records
}

// Enqueue records a write to replay later and refreshes the pending badge.
// It works online too; the next drain clears the entry. Storage failures
// are logged, not returned.
func (s *Session) Enqueue(ctx context.Context, kind offlinestore.Kind, payload json.RawMessage, method, targetID string) {
	if _, err := s.Store.EnqueueMutation(ctx, kind, payload, method, targetID); err != nil {
		s.logger.Warn("failed to enqueue mutation", "kind", kind, "error", err)
		return
	}
	s.Monitor.NotifyMutationEnqueued(ctx)
}
