package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"gopower/domain/core"
	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal/errors"
	"gopower/ports"

	"github.com/jmoiron/sqlx"
)

const (
	phaseSweep   = "sweep"
	phaseConfirm = "confirm"

	// fixed width so that text ordering matches time ordering
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ResultsRepositoryImpl implements ResultsRepository over sqlx. Queries are
// written with ? placeholders and rebound for the connected driver.
type ResultsRepositoryImpl struct {
	db *sqlx.DB
}

// NewResultsRepository creates a results repository
func NewResultsRepository(db *sqlx.DB) ports.ResultsRepository {
	return &ResultsRepositoryImpl{db: db}
}

type runRecord struct {
	ID            core.RunID `db:"id"`
	ModelName     string     `db:"model_name"`
	Fingerprint   string     `db:"fingerprint"`
	PlanJSON      string     `db:"plan_json"`
	ModelJSON     string     `db:"model_json"`
	TargetReached bool       `db:"target_reached"`
	SelectedN     int        `db:"selected_n"`
	CreatedAt     string     `db:"created_at"`
}

type rowRecord struct {
	Phase        string `db:"phase"`
	N            int    `db:"n"`
	Replications int    `db:"replications"`
	Converged    int    `db:"converged"`
}

type summaryRecord struct {
	Phase    string `db:"phase"`
	N        int    `db:"n"`
	Position int    `db:"position"`
	power.ParameterSummary
}

// SaveReport stores a report and all of its rows in one transaction
func (r *ResultsRepositoryImpl) SaveReport(ctx context.Context, report *power.Report) error {
	plan, err := json.Marshal(report.Plan)
	if err != nil {
		return errors.Wrap(err, "failed to encode plan")
	}
	var spec []byte
	if report.Model != nil {
		if spec, err = json.Marshal(report.Model); err != nil {
			return errors.Wrap(err, "failed to encode model")
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO power_runs (id, model_name, fingerprint, plan_json, model_json, target_reached, selected_n, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), report.RunID, report.ModelName, report.Fingerprint.String(), string(plan), string(spec),
		boolToInt(report.TargetReached), report.SelectedN, report.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return errors.DatabaseError("failed to insert run", err)
	}

	for _, row := range report.Sweep {
		if err := r.insertRow(ctx, tx, report.RunID, phaseSweep, row); err != nil {
			return err
		}
	}
	if report.Confirmation != nil {
		if err := r.insertRow(ctx, tx, report.RunID, phaseConfirm, *report.Confirmation); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit run", err)
	}
	return nil
}

func (r *ResultsRepositoryImpl) insertRow(ctx context.Context, tx *sqlx.Tx, runID core.RunID, phase string, row power.PowerRow) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO power_rows (run_id, phase, n, replications, converged)
		VALUES (?, ?, ?, ?, ?)
	`), runID, phase, row.N, row.Replications, row.Converged)
	if err != nil {
		return errors.DatabaseError("failed to insert power row", err)
	}

	for i, p := range row.Parameters {
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO parameter_summaries (run_id, phase, n, position, name, kind, population,
				estimate_average, estimate_sd, average_se, average_ci_width, power, coverage)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), runID, phase, row.N, i, p.Name, string(p.Kind), p.Population,
			p.EstimateAverage, p.EstimateSD, p.AverageSE, p.AverageCIWidth, p.Power, p.Coverage)
		if err != nil {
			return errors.DatabaseError("failed to insert parameter summary", err)
		}
	}
	return nil
}

// GetRun loads a stored report
func (r *ResultsRepositoryImpl) GetRun(ctx context.Context, runID core.RunID) (*power.Report, error) {
	var run runRecord
	err := r.db.GetContext(ctx, &run, r.db.Rebind(`
		SELECT id, model_name, fingerprint, plan_json, model_json, target_reached, selected_n, created_at
		FROM power_runs
		WHERE id = ?
	`), runID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w %s", core.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load run", err)
	}

	report := &power.Report{
		RunID:         run.ID,
		ModelName:     run.ModelName,
		Fingerprint:   core.Hash(run.Fingerprint),
		TargetReached: run.TargetReached,
		SelectedN:     run.SelectedN,
	}
	if err := json.Unmarshal([]byte(run.PlanJSON), &report.Plan); err != nil {
		return nil, errors.Wrap(err, "failed to decode plan")
	}
	if run.ModelJSON != "" {
		report.Model = &model.Spec{}
		if err := json.Unmarshal([]byte(run.ModelJSON), report.Model); err != nil {
			return nil, errors.Wrap(err, "failed to decode model")
		}
	}
	if report.CreatedAt, err = time.Parse(timeLayout, run.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse created_at")
	}

	var rows []rowRecord
	err = r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT phase, n, replications, converged
		FROM power_rows
		WHERE run_id = ?
		ORDER BY phase DESC, n
	`), runID)
	if err != nil {
		return nil, errors.DatabaseError("failed to load power rows", err)
	}

	var summaries []summaryRecord
	err = r.db.SelectContext(ctx, &summaries, r.db.Rebind(`
		SELECT phase, n, position, name, kind, population, estimate_average, estimate_sd,
			average_se, average_ci_width, power, coverage
		FROM parameter_summaries
		WHERE run_id = ?
		ORDER BY phase, n, position
	`), runID)
	if err != nil {
		return nil, errors.DatabaseError("failed to load parameter summaries", err)
	}

	type rowKey struct {
		phase string
		n     int
	}
	params := make(map[rowKey][]power.ParameterSummary)
	for _, s := range summaries {
		k := rowKey{s.Phase, s.N}
		params[k] = append(params[k], s.ParameterSummary)
	}

	for _, rec := range rows {
		row := power.PowerRow{
			N:            rec.N,
			Replications: rec.Replications,
			Converged:    rec.Converged,
			Parameters:   params[rowKey{rec.Phase, rec.N}],
		}
		switch rec.Phase {
		case phaseSweep:
			report.Sweep = append(report.Sweep, row)
		case phaseConfirm:
			confirm := row
			report.Confirmation = &confirm
		}
	}
	return report, nil
}

// ListRuns returns the most recent runs first. limit <= 0 lists every run.
func (r *ResultsRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	query := `
		SELECT id, model_name, fingerprint, selected_n, target_reached, created_at
		FROM power_runs
		ORDER BY created_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	runs := []ports.RunSummary{}
	if err := r.db.SelectContext(ctx, &runs, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to list runs", err)
	}
	return runs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
