// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package churchapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository is the Postgres-backed Repository used in deployments.
type PgRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgRepository wraps an existing connection pool. Call InitSchema once on
// startup.
func NewPgRepository(pool *pgxpool.Pool, logger *slog.Logger) *PgRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgRepository{pool: pool, logger: logger}
}

// InitSchema creates the business tables if they do not exist.
func (r *PgRepository) InitSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS attendance (
			id           UUID PRIMARY KEY,
			member_id    TEXT NOT NULL,
			service_date TEXT NOT NULL,
			status       TEXT NOT NULL,
			recorded_by  TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id         UUID PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name  TEXT NOT NULL,
			email      TEXT,
			phone      TEXT,
			department TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id          UUID PRIMARY KEY,
			title       TEXT NOT NULL,
			location    TEXT,
			description TEXT,
			starts_at   TIMESTAMPTZ,
			ends_at     TIMESTAMPTZ,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, table := range tables {
		if _, err := r.pool.Exec(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (r *PgRepository) RecordAttendance(ctx context.Context, rec *AttendanceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (id, member_id, service_date, status, recorded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.MemberID, rec.ServiceDate, rec.Status, rec.RecordedBy, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record attendance: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateMember(ctx context.Context, m *Member) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO members (id, first_name, last_name, email, phone, department, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			email      = EXCLUDED.email,
			phone      = EXCLUDED.phone,
			department = EXCLUDED.department,
			updated_at = EXCLUDED.updated_at
	`, m.ID, m.FirstName, m.LastName, m.Email, m.Phone, m.Department, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateMember(ctx context.Context, id string, m *Member) error {
	m.ID = id
	m.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE members SET first_name = $2, last_name = $3, email = $4,
			phone = $5, department = $6, updated_at = $7
		WHERE id = $1
	`, id, m.FirstName, m.LastName, m.Email, m.Phone, m.Department, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update member %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) DeleteMember(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM members WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete member %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) ListMembers(ctx context.Context) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, first_name, last_name, COALESCE(email,''), COALESCE(phone,''),
			COALESCE(department,''), updated_at
		FROM members ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &m.Department, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PgRepository) CreateEvent(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.UpdatedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, title, location, description, starts_at, ends_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title       = EXCLUDED.title,
			location    = EXCLUDED.location,
			description = EXCLUDED.description,
			starts_at   = EXCLUDED.starts_at,
			ends_at     = EXCLUDED.ends_at,
			updated_at  = EXCLUDED.updated_at
	`, e.ID, e.Title, e.Location, e.Description, e.StartsAt, e.EndsAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateEvent(ctx context.Context, id string, e *Event) error {
	e.ID = id
	e.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE events SET title = $2, location = $3, description = $4,
			starts_at = $5, ends_at = $6, updated_at = $7
		WHERE id = $1
	`, id, e.Title, e.Location, e.Description, e.StartsAt, e.EndsAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) DeleteEvent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, COALESCE(location,''), COALESCE(description,''),
			COALESCE(starts_at, 'epoch'::timestamptz), COALESCE(ends_at, 'epoch'::timestamptz), updated_at
		FROM events ORDER BY starts_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Location, &e.Description, &e.StartsAt, &e.EndsAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
