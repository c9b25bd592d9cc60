// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package netcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualSignal(t *testing.T) {
	m := NewManual()
	m.Push(true)
	m.Push(false)

	require.True(t, <-m.Events())
	require.False(t, <-m.Events())

	m.Close()
	_, ok := <-m.Events()
	require.False(t, ok)
}

func TestWatcherObservesConnectivity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := NewWatcher(server.URL, 10*time.Millisecond, nil)
	w.Start(context.Background())
	defer w.Stop()

	var last atomic.Bool
	go func() {
		for online := range w.Events() {
			last.Store(online)
		}
	}()

	require.Eventually(t, func() bool { return last.Load() }, 5*time.Second, 5*time.Millisecond)

	// Server gone: the watcher reports offline.
	server.Close()
	require.Eventually(t, func() bool { return !last.Load() }, 5*time.Second, 5*time.Millisecond)
}

func TestWatcherTreatsErrorStatusAsOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	w := NewWatcher(server.URL, 10*time.Millisecond, nil)
	w.Start(context.Background())
	defer w.Stop()

	// A reachable server means online, even when it answers with an error.
	require.True(t, <-w.Events())
}

func TestBackoffGrowsAndResets(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second, 2.0)

	// Jitter is at most ±20% of the current delay, so successive waits stay
	// inside predictable bounds while the schedule doubles up to the cap.
	first := b.Next()
	require.GreaterOrEqual(t, first, 100*time.Millisecond)
	require.LessOrEqual(t, first, 120*time.Millisecond)

	second := b.Next()
	require.GreaterOrEqual(t, second, 160*time.Millisecond)
	require.LessOrEqual(t, second, 240*time.Millisecond)

	for range 10 {
		b.Next()
	}
	capped := b.Next()
	require.LessOrEqual(t, capped, 1200*time.Millisecond)

	b.Reset()
	afterReset := b.Next()
	require.LessOrEqual(t, afterReset, 120*time.Millisecond)
}
