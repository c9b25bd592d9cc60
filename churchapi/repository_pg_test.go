// Copyright 2025 MobileChurch Contributors
// SPDX-License-Identifier: Apache-2.0

package churchapi

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPgRepository starts a throwaway Postgres container and returns a
// schema-initialized repository backed by it.
func setupPgRepository(t *testing.T) (*PgRepository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("church_test"),
		postgres.WithUsername("church"),
		postgres.WithPassword("church"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPgRepository(pool, nil)
	require.NoError(t, repo.InitSchema(ctx))
	return repo, pool
}

func TestPgRecordAttendance(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	repo, pool := setupPgRepository(t)

	rec := &AttendanceRecord{MemberID: "m-1", ServiceDate: "2026-08-30", Status: "present", RecordedBy: "pastor"}
	require.NoError(t, repo.RecordAttendance(ctx, rec))
	require.NotEmpty(t, rec.ID)

	// Replaying the same record is harmless.
	require.NoError(t, repo.RecordAttendance(ctx, rec))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM attendance`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestPgMemberLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	repo, _ := setupPgRepository(t)

	m := &Member{FirstName: "Grace", LastName: "Mbala", Department: "choir"}
	require.NoError(t, repo.CreateMember(ctx, m))
	require.NotEmpty(t, m.ID)

	m.Department = "ushering"
	require.NoError(t, repo.UpdateMember(ctx, m.ID, m))

	members, err := repo.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "ushering", members[0].Department)

	require.NoError(t, repo.DeleteMember(ctx, m.ID))
	require.ErrorIs(t, repo.DeleteMember(ctx, m.ID), ErrNotFound)
	require.ErrorIs(t, repo.UpdateMember(ctx, m.ID, m), ErrNotFound)
}

func TestPgEventLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	repo, _ := setupPgRepository(t)

	e := &Event{Title: "Youth Camp", Location: "Luanda", StartsAt: time.Now().UTC()}
	require.NoError(t, repo.CreateEvent(ctx, e))
	require.NotEmpty(t, e.ID)

	e.Location = "Benguela"
	require.NoError(t, repo.UpdateEvent(ctx, e.ID, e))

	events, err := repo.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "Benguela", events[0].Location)

	require.NoError(t, repo.DeleteEvent(ctx, e.ID))
	require.ErrorIs(t, repo.DeleteEvent(ctx, e.ID), ErrNotFound)
}
