// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package offlinesync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jkalala/mobilechurch-sync/offlinestore"
)

// TokenFunc returns the bearer token to authenticate requests with.
type TokenFunc func(ctx context.Context) (string, error)

// Transport replays pending mutations against the remote church API. It maps
// each mutation kind to its endpoint: attendance always POSTs to
// /attendance, the update kinds use the mutation's recorded method against
// /members or /events, appending the target id to the path when present.
type Transport struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
}

// NewTransport creates a transport for the given API base URL. Token may be
// nil for unauthenticated servers.
func NewTransport(baseURL string, token TokenFunc) *Transport {
	return &Transport{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit replays one mutation. Any non-2xx response (or transport error) is
// returned as an error; the caller decides whether the mutation stays queued.
func (t *Transport) Submit(ctx context.Context, m offlinestore.PendingMutation) error {
	method, url, err := t.requestTarget(m)
	if err != nil {
		return err
	}

	var body io.Reader
	if method != http.MethodDelete {
		body = bytes.NewReader(m.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	// Marks the request as a queued-mutation replay so the server can meter
	// backlog drains separately from live traffic.
	httpReq.Header.Set("X-Offline-Replay", string(m.Kind))
	if t.Token != nil {
		token, err := t.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get auth token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// requestTarget resolves the method and URL for a mutation.
func (t *Transport) requestTarget(m offlinestore.PendingMutation) (method, url string, err error) {
	switch m.Kind {
	case offlinestore.KindAttendance:
		return http.MethodPost, t.BaseURL + "/attendance", nil
	case offlinestore.KindMemberUpdate:
		return m.Method, t.entityURL("/members", m.TargetID), nil
	case offlinestore.KindEventUpdate:
		return m.Method, t.entityURL("/events", m.TargetID), nil
	default:
		return "", "", fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

func (t *Transport) entityURL(path, targetID string) string {
	if targetID == "" {
		return t.BaseURL + path
	}
	return t.BaseURL + path + "/" + targetID
}
