// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package churchapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkalala/mobilechurch-sync/internal/auth"
)

// ReplayMarkerHeader is set by offline clients when a request is a queued
// mutation being replayed, so the server can meter backlog drains.
const ReplayMarkerHeader = "X-Offline-Replay"

// HTTPHandlers serves the REST surface offline clients sync against.
type HTTPHandlers struct {
	repo          Repository
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPHandlers creates the handler set. authenticator may be nil to
// disable auth (tests, local demos).
func NewHTTPHandlers(repo Repository, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{repo: repo, authenticator: authenticator, logger: logger}
}

// Mux returns the routed handler, including /healthz and /metrics.
func (h *HTTPHandlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /attendance", h.instrument("attendance", h.requireAuth(h.handleRecordAttendance)))

	mux.HandleFunc("GET /members", h.instrument("members", h.requireAuth(h.handleListMembers)))
	mux.HandleFunc("POST /members", h.instrument("members", h.requireAuth(h.handleCreateMember)))
	mux.HandleFunc("PUT /members/{id}", h.instrument("members", h.requireAuth(h.handleUpdateMember)))
	mux.HandleFunc("DELETE /members/{id}", h.instrument("members", h.requireAuth(h.handleDeleteMember)))

	mux.HandleFunc("GET /events", h.instrument("events", h.requireAuth(h.handleListEvents)))
	mux.HandleFunc("POST /events", h.instrument("events", h.requireAuth(h.handleCreateEvent)))
	mux.HandleFunc("PUT /events/{id}", h.instrument("events", h.requireAuth(h.handleUpdateEvent)))
	mux.HandleFunc("DELETE /events/{id}", h.instrument("events", h.requireAuth(h.handleDeleteEvent)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *HTTPHandlers) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		RequestDuration.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		if kind := r.Header.Get(ReplayMarkerHeader); kind != "" && rec.status < 300 {
			ReplayedMutations.WithLabelValues(kind).Inc()
		}
	}
}

func (h *HTTPHandlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if h.authenticator == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.authenticator.GetUserID(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		deviceID, err := h.authenticator.GetDeviceID(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), userID, deviceID)))
	}
}

func (h *HTTPHandlers) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var rec AttendanceRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse attendance record")
		return
	}
	if rec.MemberID == "" || rec.ServiceDate == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "member_id and service_date are required")
		return
	}
	if rec.RecordedBy == "" {
		if userID, ok := auth.UserID(r.Context()); ok {
			rec.RecordedBy = userID
		}
	}
	if err := h.repo.RecordAttendance(r.Context(), &rec); err != nil {
		h.logger.Error("Failed to record attendance", "error", err, "member_id", rec.MemberID)
		h.writeError(w, http.StatusInternalServerError, "attendance_failed", "Failed to record attendance")
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *HTTPHandlers) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.repo.ListMembers(r.Context())
	if err != nil {
		h.logger.Error("Failed to list members", "error", err)
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list members")
		return
	}
	h.writeJSON(w, http.StatusOK, members)
}

func (h *HTTPHandlers) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var m Member
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse member")
		return
	}
	if err := h.repo.CreateMember(r.Context(), &m); err != nil {
		h.logger.Error("Failed to create member", "error", err)
		h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to create member")
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

func (h *HTTPHandlers) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var m Member
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse member")
		return
	}
	if err := h.repo.UpdateMember(r.Context(), id, &m); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Member not found")
			return
		}
		h.logger.Error("Failed to update member", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "update_failed", "Failed to update member")
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *HTTPHandlers) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.DeleteMember(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Member not found")
			return
		}
		h.logger.Error("Failed to delete member", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandlers) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.repo.ListEvents(r.Context())
	if err != nil {
		h.logger.Error("Failed to list events", "error", err)
		h.writeError(w, http.StatusInternalServerError, "list_failed", "Failed to list events")
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *HTTPHandlers) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var e Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse event")
		return
	}
	if err := h.repo.CreateEvent(r.Context(), &e); err != nil {
		h.logger.Error("Failed to create event", "error", err)
		h.writeError(w, http.StatusInternalServerError, "create_failed", "Failed to create event")
		return
	}
	h.writeJSON(w, http.StatusCreated, e)
}

func (h *HTTPHandlers) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var e Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse event")
		return
	}
	if err := h.repo.UpdateEvent(r.Context(), id, &e); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Event not found")
			return
		}
		h.logger.Error("Failed to update event", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "update_failed", "Failed to update event")
		return
	}
	h.writeJSON(w, http.StatusOK, e)
}

func (h *HTTPHandlers) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.DeleteEvent(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Event not found")
			return
		}
		h.logger.Error("Failed to delete event", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
