// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

// Package netcheck produces the online/offline signal the connectivity
// monitor consumes. On platforms with native reachability notifications the
// host shell pushes transitions through Manual; everywhere else Watcher
// derives them by probing a reachability URL.
package netcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Watcher probes a URL on an interval and emits a boolean event for every
// observed state. While offline it backs off exponentially with jitter
// instead of probing at the full rate. Consumers are expected to be
// edge-triggered; repeated events for the same state are normal.
type Watcher struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
	backoff  *Backoff

	events chan bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher that probes probeURL every interval with a
// HEAD request. Any response (including an error status) counts as online;
// only a transport failure counts as offline.
func NewWatcher(probeURL string, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		backoff:  NewBackoff(interval, 8*interval, 2.0),
		events:   make(chan bool, 1),
	}
}

// Events returns the channel connectivity observations are delivered on.
func (w *Watcher) Events() <-chan bool { return w.events }

// Start begins probing in the background.
func (w *Watcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx)
}

// Stop stops probing and closes the event channel.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	for {
		online := w.probe(ctx)

		select {
		case w.events <- online:
		default:
			// Consumer is behind; the stale observation is dropped.
		}

		var wait time.Duration
		if online {
			w.backoff.Reset()
			wait = w.interval
		} else {
			wait = w.backoff.Next()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug("connectivity probe failed", "url", w.probeURL, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Manual is a connectivity signal driven by the caller, for host shells
// that receive native online/offline notifications and for tests.
type Manual struct {
	events chan bool
}

func NewManual() *Manual {
	return &Manual{events: make(chan bool, 8)}
}

// Events returns the channel transitions are delivered on.
func (m *Manual) Events() <-chan bool { return m.events }

// Push reports a connectivity observation.
func (m *Manual) Push(online bool) {
	m.events <- online
}

// Close closes the event channel.
func (m *Manual) Close() {
	close(m.events)
}
