// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

// Package offlinesync replays mutations queued by the offline store against
// the remote church API and tracks connectivity state for the UI.
package offlinesync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jkalala/mobilechurch-sync/offlinestore"
)

// Summary reports the outcome of one drain pass.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Engine performs best-effort, at-least-once replay of queued mutations.
// Each queue entry succeeds or fails independently; a failure leaves the
// entry queued for a later pass and never aborts the drain.
//
// Only one drain runs at a time. A Drain call made while another is in
// flight does not start a second pass; it waits for the running one and
// returns its summary, so a queue snapshot is never submitted twice.
type Engine struct {
	store     *offlinestore.Store
	transport *Transport
	logger    *slog.Logger

	online atomic.Bool

	mu       sync.Mutex
	inflight *drainOp
}

// drainOp is one running drain pass. Its result fields are written before
// done is closed, so a coalesced caller always reads the outcome of the
// exact pass it waited on.
type drainOp struct {
	done    chan struct{}
	summary Summary
	err     error
}

// NewEngine creates a sync engine over the given store and transport.
func NewEngine(store *offlinestore.Store, transport *Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, transport: transport, logger: logger}
}

// SetOnline records the current connectivity state. Drain is a no-op while
// offline. The connectivity monitor keeps this flag current.
func (e *Engine) SetOnline(v bool) { e.online.Store(v) }

// Online reports the last recorded connectivity state.
func (e *Engine) Online() bool { return e.online.Load() }

// Drain replays every currently queued mutation in queue order (FIFO within
// each kind), removes entries the server confirmed and keeps the rest, then
// records the sync time. Calling it while offline or with an empty queue is
// a cheap no-op.
func (e *Engine) Drain(ctx context.Context) (Summary, error) {
	if !e.online.Load() {
		return Summary{}, nil
	}

	e.mu.Lock()
	if op := e.inflight; op != nil {
		// Coalesce into the running drain.
		e.mu.Unlock()
		select {
		case <-op.done:
			return op.summary, op.err
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}
	op := &drainOp{done: make(chan struct{})}
	e.inflight = op
	e.mu.Unlock()

	// The guard must clear even when the pass errors or panics, otherwise a
	// single bad cycle would block all future drains.
	defer func() {
		e.mu.Lock()
		e.inflight = nil
		e.mu.Unlock()
		close(op.done)
	}()

	op.summary, op.err = e.drain(ctx)
	return op.summary, op.err
}

func (e *Engine) drain(ctx context.Context) (Summary, error) {
	pending, err := e.store.ListPendingMutations(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(pending) == 0 {
		return Summary{}, nil
	}

	var summary Summary
	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := e.transport.Submit(ctx, m); err != nil {
			// Leave the entry queued; the next drain retries it.
			summary.Failed++
			e.logger.Warn("mutation replay failed",
				"kind", m.Kind, "id", m.ID, "target", m.TargetID, "error", err)
			continue
		}
		if err := e.store.RemovePendingMutation(ctx, m.Kind, m.ID); err != nil {
			// The server applied the write but the local record survived, so
			// the next drain will submit it again (accepted at-least-once
			// behavior). Count it as failed to keep Remaining honest.
			summary.Failed++
			e.logger.Error("failed to remove replayed mutation",
				"kind", m.Kind, "id", m.ID, "error", err)
			continue
		}
		summary.Succeeded++
	}

	if remaining, err := e.store.PendingCount(ctx); err == nil {
		summary.Remaining = remaining
	} else {
		summary.Remaining = summary.Failed
		e.logger.Warn("failed to recount pending mutations", "error", err)
	}

	if err := e.store.SetLastSync(ctx, time.Now()); err != nil {
		e.logger.Warn("failed to record sync time", "error", err)
	}

	e.logger.Info("drain complete",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "remaining", summary.Remaining)
	return summary, nil
}
