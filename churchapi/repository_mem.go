// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package churchapi

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository for tests and demos.
type MemRepository struct {
	mu         sync.RWMutex
	attendance []AttendanceRecord
	members    map[string]Member
	events     map[string]Event
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		members: make(map[string]Member),
		events:  make(map[string]Event),
	}
}

func (r *MemRepository) RecordAttendance(_ context.Context, rec *AttendanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	r.attendance = append(r.attendance, *rec)
	return nil
}

// Attendance returns all recorded attendance in insertion order.
func (r *MemRepository) Attendance() []AttendanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AttendanceRecord, len(r.attendance))
	copy(out, r.attendance)
	return out
}

func (r *MemRepository) CreateMember(_ context.Context, m *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.UpdatedAt = time.Now().UTC()
	r.members[m.ID] = *m
	return nil
}

func (r *MemRepository) UpdateMember(_ context.Context, id string, m *Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return ErrNotFound
	}
	m.ID = id
	m.UpdatedAt = time.Now().UTC()
	r.members[id] = *m
	return nil
}

func (r *MemRepository) DeleteMember(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return ErrNotFound
	}
	delete(r.members, id)
	return nil
}

func (r *MemRepository) ListMembers(_ context.Context) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out, nil
}

func (r *MemRepository) CreateEvent(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.UpdatedAt = time.Now().UTC()
	r.events[e.ID] = *e
	return nil
}

func (r *MemRepository) UpdateEvent(_ context.Context, id string, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return ErrNotFound
	}
	e.ID = id
	e.UpdatedAt = time.Now().UTC()
	r.events[id] = *e
	return nil
}

func (r *MemRepository) DeleteEvent(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return ErrNotFound
	}
	delete(r.events, id)
	return nil
}

func (r *MemRepository) ListEvents(_ context.Context) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e)
	}
	return out, nil
}
