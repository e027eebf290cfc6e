package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maktabahq/maktaba/core/attendance"
	"github.com/maktabahq/maktaba/core/scan"
	"github.com/maktabahq/maktaba/core/simulation"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open()
	require.NoError(t, err)
	return db
}

func TestSessionRepositoryConflict(t *testing.T) {
	db := openDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sess := attendance.Session{
		ID:          "s1",
		StudentID:   "stu-1",
		State:       attendance.StateIn,
		CheckedInAt: now,
		ExpiresAt:   now.Add(8 * time.Hour),
	}

	_, err := repo.CreateSession(ctx, sess)
	require.NoError(t, err)

	dup := sess
	dup.ID = "s2"
	_, err = repo.CreateSession(ctx, dup)
	assert.Equal(t, attendance.ErrSessionConflict, err)

	open, err := repo.GetOpenSession(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", open.ID)

	open.State = attendance.StateOut
	open.CheckedOutAt = now.Add(time.Hour)
	_, err = repo.CloseSession(ctx, open)
	require.NoError(t, err)

	_, err = repo.GetOpenSession(ctx, "stu-1")
	assert.Equal(t, attendance.ErrNoSession, err)

	// closing twice reports no session
	_, err = repo.CloseSession(ctx, open)
	assert.Equal(t, attendance.ErrNoSession, err)
}

func TestSessionRepositoryExpiredQuery(t *testing.T) {
	db := openDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i, expiry := range []time.Time{now.Add(-time.Minute), now.Add(time.Hour)} {
		_, err := repo.CreateSession(ctx, attendance.Session{
			ID:          string(rune('a' + i)),
			StudentID:   "stu-" + string(rune('1'+i)),
			State:       attendance.StateIn,
			CheckedInAt: now.Add(-8 * time.Hour),
			ExpiresAt:   expiry,
		})
		require.NoError(t, err)
	}

	expired, err := repo.QueryExpiredSessions(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].ID)
}

func TestSessionRepositoryStatistics(t *testing.T) {
	db := openDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	closed := attendance.Session{
		ID: "s1", StudentID: "stu-1", State: attendance.StateOut,
		CheckedInAt: now, CheckedOutAt: now.Add(30 * time.Minute),
		ExpiresAt: now.Add(8 * time.Hour),
	}
	db.sessions.table[closed.ID] = &closed

	_, err := repo.CreateSession(ctx, attendance.Session{
		ID: "s2", StudentID: "stu-2", State: attendance.StateIn,
		CheckedInAt: now, ExpiresAt: now.Add(8 * time.Hour),
	})
	require.NoError(t, err)

	stats, err := repo.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCheckIns)
	assert.Equal(t, 1, stats.CurrentlyIn)
	assert.Equal(t, 2, stats.UniqueStudents)
	assert.Equal(t, float64(30), stats.AverageVisitLength)
}

func TestRegistryRepository(t *testing.T) {
	db := openDB(t)
	repo := NewRegistryRepository(db)
	ctx := context.Background()

	repo.SeedStudent("student-1", "STU-001")
	repo.SeedStudent("student-2", "STU-002")
	repo.SeedBook("book-1", "BOOK-001")

	id, err := repo.StudentIDByCode(ctx, "STU-001")
	require.NoError(t, err)
	assert.Equal(t, "student-1", id)

	// pools do not bleed into each other
	_, err = repo.StudentIDByCode(ctx, "BOOK-001")
	assert.Equal(t, scan.ErrNotFound, err)

	// round-robin over the student pool
	got := []string{
		repo.Code(simulation.DataTypeStudent),
		repo.Code(simulation.DataTypeStudent),
		repo.Code(simulation.DataTypeStudent),
	}
	assert.Equal(t, []string{"STU-001", "STU-002", "STU-001"}, got)

	assert.Empty(t, repo.Code(simulation.DataTypeEquipment))
}

func TestSimulationStores(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	scenarios := NewScenarioRepository(db)
	_, err := scenarios.GetScenario(ctx, "nope")
	assert.Equal(t, simulation.ErrScenarioNotFound, err)

	_, err = scenarios.CreateScenario(ctx, simulation.Scenario{ID: "sc-1", Name: "smoke", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, scenarios.DeleteScenario(ctx, "sc-1"))
	assert.Equal(t, simulation.ErrScenarioNotFound, scenarios.DeleteScenario(ctx, "sc-1"))

	results := NewResultRepository(db)
	require.NoError(t, results.SaveResult(ctx, simulation.TestResult{TestID: "t-1", Status: "running"}))
	res, err := results.GetResult(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "running", res.Status)

	devices := NewDeviceRepository(db)
	devices.SeedDefaultDevices()
	devices.SeedDefaultDevices() // idempotent
	devs, err := devices.QueryDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devs, 3)
}
