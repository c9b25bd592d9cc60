// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package offlinesync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jkalala/mobilechurch-sync/offlinestore"
)

// Phase is the lifecycle state of the connectivity monitor.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseInitializing
	PhaseReady
)

// State is the snapshot the UI observes: connectivity, store readiness, the
// size of the replay backlog, and when the last drain completed.
type State struct {
	Phase        Phase     `json:"-"`
	IsOnline     bool      `json:"is_online"`
	IsReady      bool      `json:"is_ready"`
	PendingCount int       `json:"pending_count"`
	LastSync     time.Time `json:"last_sync,omitzero"`
}

// Monitor tracks online/offline transitions and derived sync state. It is
// the single source of truth for "are we online"; an offline-to-online edge
// triggers exactly one engine drain, no matter how many online events the
// environment delivers in a burst.
type Monitor struct {
	store  *offlinestore.Store
	engine *Engine
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor over the given store and engine.
func NewMonitor(store *offlinestore.Store, engine *Engine, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:  store,
		engine: engine,
		logger: logger,
		subs:   make(map[int]func(State)),
	}
}

// Start opens the store, computes the initial state from the current network
// condition and queue depth, and begins consuming connectivity events. A
// store that cannot open leaves IsReady false; the monitor keeps tracking
// connectivity so the app stays usable online-only.
func (m *Monitor) Start(ctx context.Context, events <-chan bool, online bool) {
	m.mu.Lock()
	m.state = State{Phase: PhaseInitializing, IsOnline: online}
	m.mu.Unlock()

	ready := true
	if err := m.store.Open(ctx); err != nil {
		ready = false
		m.logger.Warn("offline store unavailable, offline features disabled", "error", err)
	}

	state := State{Phase: PhaseReady, IsOnline: online, IsReady: ready}
	if ready {
		if n, err := m.store.PendingCount(ctx); err == nil {
			state.PendingCount = n
		}
		if t, ok, err := m.store.LastSync(ctx); err == nil && ok {
			state.LastSync = t
		}
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	m.engine.SetOnline(online)
	m.publish(state)

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, events)

	// Replay any backlog left over from a previous session.
	if online && ready && state.PendingCount > 0 {
		go m.drainAndRefresh(runCtx)
	}
}

// Stop stops event processing. Subscriptions stay registered but receive no
// further notifications.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) run(ctx context.Context, events <-chan bool) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-events:
			if !ok {
				return
			}
			m.handleTransition(ctx, online)
		}
	}
}

// handleTransition is edge-triggered: repeated events for the current state
// are ignored, so a burst of online notifications drains once.
func (m *Monitor) handleTransition(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.state.IsOnline == online {
		m.mu.Unlock()
		return
	}
	m.state.IsOnline = online
	state := m.state
	m.mu.Unlock()

	m.engine.SetOnline(online)
	m.publish(state)

	if online && state.IsReady {
		m.logger.Info("connectivity restored, draining pending mutations",
			"pending", state.PendingCount)
		go m.drainAndRefresh(ctx)
	}
}

func (m *Monitor) drainAndRefresh(ctx context.Context) {
	if _, err := m.engine.Drain(ctx); err != nil {
		m.logger.Warn("drain failed", "error", err)
	}
	m.refresh(ctx)
}

// refresh recomputes the derived counters from the store and notifies
// subscribers.
func (m *Monitor) refresh(ctx context.Context) {
	m.mu.Lock()
	ready := m.state.IsReady
	m.mu.Unlock()
	if !ready {
		return
	}

	n, err := m.store.PendingCount(ctx)
	if err != nil {
		m.logger.Warn("failed to count pending mutations", "error", err)
		return
	}
	var last time.Time
	if t, ok, err := m.store.LastSync(ctx); err == nil && ok {
		last = t
	}

	m.mu.Lock()
	changed := m.state.PendingCount != n || (!last.IsZero() && !last.Equal(m.state.LastSync))
	m.state.PendingCount = n
	if !last.IsZero() {
		m.state.LastSync = last
	}
	state := m.state
	m.mu.Unlock()
	if changed {
		m.publish(state)
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers a callback invoked after every state change. The
// returned function removes the subscription; calling it more than once is
// harmless.
func (m *Monitor) OnChange(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// NotifyMutationEnqueued refreshes PendingCount immediately after the UI
// enqueues a mutation, instead of waiting for the next drain.
func (m *Monitor) NotifyMutationEnqueued(ctx context.Context) {
	m.refresh(ctx)
}

func (m *Monitor) publish(state State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}
