package migration

import (
	"context"
	"fmt"

	"gopower/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the results schema. Every statement is idempotent
// and uses column types both SQLite and PostgreSQL accept.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.1.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		fn   func(context.Context, *sqlx.DB) error
	}{
		{"schema_migrations", r.createSchemaMigrationsTable},
		{"power_runs", r.createPowerRunsTable},
		{"power_runs.model_json", r.addModelColumn},
		{"power_rows", r.createPowerRowsTable},
		{"parameter_summaries", r.createParameterSummariesTable},
		{"indexes", r.createIndexes},
	}
	for _, step := range steps {
		if err := step.fn(ctx, db); err != nil {
			return errors.Wrap(err, fmt.Sprintf("failed to create %s", step.name))
		}
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	return nil
}

// Applied reports whether this runner's version has been recorded
func (r *MigrationRunner) Applied(ctx context.Context, db *sqlx.DB) (bool, error) {
	var count int
	err := db.GetContext(ctx, &count, db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), r.version)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MigrationRunner) createSchemaMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createPowerRunsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS power_runs (
			id TEXT PRIMARY KEY,
			model_name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			plan_json TEXT NOT NULL,
			model_json TEXT NOT NULL DEFAULT '',
			target_reached INTEGER NOT NULL DEFAULT 0,
			selected_n INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	return err
}

// addModelColumn upgrades power_runs tables created before 1.1.0, which did
// not store the model snapshot.
func (r *MigrationRunner) addModelColumn(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `SELECT model_json FROM power_runs WHERE 1 = 0`); err == nil {
		return nil
	}
	_, err := db.ExecContext(ctx, `ALTER TABLE power_runs ADD COLUMN model_json TEXT NOT NULL DEFAULT ''`)
	return err
}

func (r *MigrationRunner) createPowerRowsTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS power_rows (
			run_id TEXT NOT NULL REFERENCES power_runs(id) ON DELETE CASCADE,
			phase TEXT NOT NULL,
			n INTEGER NOT NULL,
			replications INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			PRIMARY KEY (run_id, phase, n)
		)
	`)
	return err
}

func (r *MigrationRunner) createParameterSummariesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS parameter_summaries (
			run_id TEXT NOT NULL REFERENCES power_runs(id) ON DELETE CASCADE,
			phase TEXT NOT NULL,
			n INTEGER NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			population DOUBLE PRECISION NOT NULL,
			estimate_average DOUBLE PRECISION NOT NULL,
			estimate_sd DOUBLE PRECISION NOT NULL,
			average_se DOUBLE PRECISION NOT NULL,
			average_ci_width DOUBLE PRECISION NOT NULL,
			power DOUBLE PRECISION NOT NULL,
			coverage DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, phase, n, name)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_power_runs_created_at ON power_runs(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_power_runs_fingerprint ON power_runs(fingerprint)",
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO schema_migrations (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
		ON CONFLICT (version) DO NOTHING
	`), r.version)
	return err
}
