package db

import (
	"context"
	"testing"
	"time"

	"gopower/domain/core"
	"gopower/internal/migration"
	"gopower/internal/testkit"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user@localhost/power", "postgres"},
		{"postgresql://localhost/power?sslmode=disable", "postgres"},
		{"gopower.db", "sqlite"},
		{":memory:", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, DriverFor(tt.dsn))
		})
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openMemory(t)
	runner := migration.NewRunner()

	require.NoError(t, runner.Run(context.Background(), db))
	applied, err := runner.Applied(context.Background(), db)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestMigrationAddsModelColumnToOlderSchema(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `DROP TABLE power_runs`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		CREATE TABLE power_runs (
			id TEXT PRIMARY KEY,
			model_name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			plan_json TEXT NOT NULL,
			target_reached INTEGER NOT NULL DEFAULT 0,
			selected_n INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	require.NoError(t, migration.NewRunner().Run(ctx, db))

	repo := NewResultsRepository(db)
	want := testkit.SampleReport()
	require.NoError(t, repo.SaveReport(ctx, want))
	got, err := repo.GetRun(ctx, want.RunID)
	require.NoError(t, err)
	assert.Equal(t, want.Model, got.Model)
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo := NewResultsRepository(openMemory(t))
	ctx := context.Background()
	want := testkit.SampleReport()

	require.NoError(t, repo.SaveReport(ctx, want))

	got, err := repo.GetRun(ctx, want.RunID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveWithoutModel(t *testing.T) {
	repo := NewResultsRepository(openMemory(t))
	ctx := context.Background()
	report := testkit.SampleReport()
	report.Model = nil

	require.NoError(t, repo.SaveReport(ctx, report))
	got, err := repo.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Nil(t, got.Model)
	assert.Equal(t, report.Plan, got.Plan)
}

func TestSaveWithoutConfirmation(t *testing.T) {
	repo := NewResultsRepository(openMemory(t))
	ctx := context.Background()
	report := testkit.SampleReport()
	report.TargetReached = false
	report.SelectedN = 0
	report.Confirmation = nil

	require.NoError(t, repo.SaveReport(ctx, report))
	got, err := repo.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Nil(t, got.Confirmation)
	assert.False(t, got.TargetReached)
	assert.Len(t, got.Sweep, 3)
}

func TestSaveRejectsDuplicateRun(t *testing.T) {
	repo := NewResultsRepository(openMemory(t))
	ctx := context.Background()

	require.NoError(t, repo.SaveReport(ctx, testkit.SampleReport()))
	assert.Error(t, repo.SaveReport(ctx, testkit.SampleReport()))

	runs, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "failed transaction leaves no partial run")
}

func TestGetRunNotFound(t *testing.T) {
	repo := NewResultsRepository(openMemory(t))

	_, err := repo.GetRun(context.Background(), core.NewRunID())
	assert.ErrorIs(t, err, core.ErrRunNotFound)
	assert.True(t, core.IsNotFoundError(err))
}

func TestListRunsNewestFirst(t *testing.T) {
	repo := NewResultsRepository(openMemory(t))
	ctx := context.Background()

	base := testkit.SampleReport().CreatedAt
	var ids []core.RunID
	for i := 0; i < 3; i++ {
		report := testkit.SampleReport()
		report.RunID = core.NewRunID()
		report.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.SaveReport(ctx, report))
		ids = append(ids, report.RunID)
	}

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[1], runs[1].RunID)
	assert.Equal(t, 150, runs[0].SelectedN)
	assert.True(t, runs[0].TargetReached)
	assert.Equal(t, "moderated_mediation", runs[0].ModelName)

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
