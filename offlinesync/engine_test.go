// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package offlinesync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jkalala/mobilechurch-sync/offlinestore"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestEngine(t *testing.T, rt http.RoundTripper) (*Engine, *offlinestore.Store) {
	t.Helper()
	store := offlinestore.New(":memory:", nil)
	t.Cleanup(func() { _ = store.Close() })
	transport := NewTransport("http://church.test", nil)
	transport.HTTP = &http.Client{Transport: rt}
	engine := NewEngine(store, transport, nil)
	return engine, store
}

func TestDrainOfflineIsNoop(t *testing.T) {
	calls := 0
	engine, store := newTestEngine(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return newResponse(http.StatusOK, `{}`), nil
	}))
	_, err := store.EnqueueMutation(context.Background(), offlinestore.KindAttendance, json.RawMessage(`{}`), "", "")
	require.NoError(t, err)

	summary, err := engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{}, summary)
	require.Zero(t, calls)
}

func TestDrainEmptyQueue(t *testing.T) {
	engine, _ := newTestEngine(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected for an empty queue")
		return nil, nil
	}))
	engine.SetOnline(true)

	summary, err := engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{Succeeded: 0, Failed: 0, Remaining: 0}, summary)

	// Immediately draining again is just as cheap.
	summary, err = engine.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{}, summary)
}

func TestDrainReplaysInFIFOOrder(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var received []string

	engine, store := newTestEngine(t, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Tag string `json:"tag"`
		}
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		received = append(received, payload.Tag)
		mu.Unlock()
		return newResponse(http.StatusCreated, `{}`), nil
	}))

	for _, tag := range []string{"A", "B", "C"} {
		_, err := store.EnqueueMutation(ctx, offlinestore.KindAttendance,
			json.RawMessage(`{"tag":"`+tag+`"}`), "", "")
		require.NoError(t, err)
	}

	engine.SetOnline(true)
	summary, err := engine.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, Summary{Succeeded: 3, Failed: 0, Remaining: 0}, summary)
	require.Equal(t, []string{"A", "B", "C"}, received)
}

func TestDrainIsolatesFailures(t *testing.T) {
	ctx := context.Background()

	engine, store := newTestEngine(t, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		if bytes.Contains(body, []byte("boom")) {
			return newResponse(http.StatusInternalServerError, `{"error":"server_error"}`), nil
		}
		return newResponse(http.StatusOK, `{}`), nil
	}))

	_, err := store.EnqueueMutation(ctx, offlinestore.KindAttendance, json.RawMessage(`{"tag":"ok"}`), "", "")
	require.NoError(t, err)
	failedID, err := store.EnqueueMutation(ctx, offlinestore.KindAttendance, json.RawMessage(`{"tag":"boom"}`), "", "")
	require.NoError(t, err)

	engine.SetOnline(true)
	summary, err := engine.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, Summary{Succeeded: 1, Failed: 1, Remaining: 1}, summary)

	pending, err := store.ListPendingMutations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, failedID, pending[0].ID)
}

func TestDrainUpdatesLastSync(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		return newResponse(http.StatusOK, `{}`), nil
	}))
	_, err := store.EnqueueMutation(ctx, offlinestore.KindAttendance, json.RawMessage(`{}`), "", "")
	require.NoError(t, err)

	engine.SetOnline(true)
	_, err = engine.Drain(ctx)
	require.NoError(t, err)

	_, ok, err := store.LastSync(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConcurrentDrainsCoalesce(t *testing.T) {
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	requests := 0

	engine, store := newTestEngine(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		requests++
		mu.Unlock()
		return newResponse(http.StatusOK, `{}`), nil
	}))

	for range 3 {
		_, err := store.EnqueueMutation(ctx, offlinestore.KindAttendance, json.RawMessage(`{}`), "", "")
		require.NoError(t, err)
	}
	engine.SetOnline(true)

	var wg sync.WaitGroup
	summaries := make([]Summary, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		summaries[0], _ = engine.Drain(ctx)
	}()

	// Wait for the first drain to be mid-flight, then issue a second call
	// that must coalesce instead of re-submitting the queue.
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		summaries[1], _ = engine.Drain(ctx)
	}()

	close(release)
	wg.Wait()

	// The first caller owns the pass; the second either coalesced into it or
	// found the queue already empty. Either way the queue snapshot was
	// submitted exactly once.
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, requests, "each queued item must be submitted exactly once")
	require.Equal(t, Summary{Succeeded: 3, Failed: 0, Remaining: 0}, summaries[0])
	require.Zero(t, summaries[1].Failed)
	require.Zero(t, summaries[1].Remaining)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCoalescedCallerReceivesInflightSummary(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Error("a coalesced caller must not submit anything")
		return nil, nil
	}))
	engine.SetOnline(true)

	// Plant a running pass by hand. The guard stays set for the whole test,
	// so the caller below must take the coalesce path no matter how it is
	// scheduled.
	op := &drainOp{done: make(chan struct{})}
	engine.mu.Lock()
	engine.inflight = op
	engine.mu.Unlock()

	type result struct {
		summary Summary
		err     error
	}
	got := make(chan result, 1)
	go func() {
		s, err := engine.Drain(ctx)
		got <- result{s, err}
	}()

	op.summary = Summary{Succeeded: 3}
	close(op.done)

	r := <-got
	require.NoError(t, r.err)
	require.Equal(t, Summary{Succeeded: 3}, r.summary,
		"the coalesced caller receives the summary of the pass it waited on")

	engine.mu.Lock()
	engine.inflight = nil
	engine.mu.Unlock()
}

func TestDrainGuardReleasedAfterError(t *testing.T) {
	ctx := context.Background()

	store := offlinestore.New("/nonexistent-dir/offline.db", nil)
	transport := NewTransport("http://church.test", nil)
	engine := NewEngine(store, transport, nil)
	engine.SetOnline(true)

	// The store cannot open, so the pass errors out.
	_, err := engine.Drain(ctx)
	require.ErrorIs(t, err, offlinestore.ErrStorageUnavailable)

	// The guard must not be stuck: the next drain runs (and errors) again
	// instead of blocking forever.
	_, err = engine.Drain(ctx)
	require.ErrorIs(t, err, offlinestore.ErrStorageUnavailable)
}

func TestDrainGuardReleasedAfterPanic(t *testing.T) {
	ctx := context.Background()

	calls := 0
	engine, store := newTestEngine(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			panic("transport blew up")
		}
		return newResponse(http.StatusOK, `{}`), nil
	}))
	_, err := store.EnqueueMutation(ctx, offlinestore.KindAttendance, json.RawMessage(`{}`), "", "")
	require.NoError(t, err)
	engine.SetOnline(true)

	// A panic out of the transport escapes Drain.
	require.Panics(t, func() { _, _ = engine.Drain(ctx) })

	// The guard must have been cleared on the way out; the next drain runs a
	// normal pass instead of blocking until its context expires.
	summary, err := engine.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, Summary{Succeeded: 1, Failed: 0, Remaining: 0}, summary)
}
