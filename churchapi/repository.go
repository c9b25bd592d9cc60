// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

// Package churchapi implements the REST surface the offline sync client
// replays into: attendance recording plus member and event CRUD. It ships a
// Postgres-backed repository for deployments and an in-memory one for tests
// and demos.
package churchapi

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an update or delete targets a record that
// does not exist.
var ErrNotFound = errors.New("record not found")

// AttendanceRecord is one member's attendance at one service.
type AttendanceRecord struct {
	ID          string    `json:"id,omitempty"`
	MemberID    string    `json:"member_id"`
	ServiceDate string    `json:"service_date"`
	Status      string    `json:"status"` // present | absent | excused
	RecordedBy  string    `json:"recorded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// Member is a church member directory entry.
type Member struct {
	ID         string    `json:"id,omitempty"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Department string    `json:"department,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Event is a church calendar entry.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"starts_at,omitzero"`
	EndsAt      time.Time `json:"ends_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// Repository is the persistence boundary for the API handlers. The Postgres
// implementation serves deployments; the in-memory one serves tests.
type Repository interface {
	RecordAttendance(ctx context.Context, rec *AttendanceRecord) error

	CreateMember(ctx context.Context, m *Member) error
	UpdateMember(ctx context.Context, id string, m *Member) error
	DeleteMember(ctx context.Context, id string) error
	ListMembers(ctx context.Context) ([]Member, error)

	CreateEvent(ctx context.Context, e *Event) error
	UpdateEvent(ctx context.Context, id string, e *Event) error
	DeleteEvent(ctx context.Context, id string) error
	ListEvents(ctx context.Context) ([]Event, error)
}
