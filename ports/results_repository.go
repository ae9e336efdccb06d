package ports

import (
	"context"

	"gopower/domain/core"
	"gopower/domain/power"
)

// RunSummary is a listing entry for a stored run
type RunSummary struct {
	RunID         core.RunID `json:"run_id" db:"id"`
	ModelName     string     `json:"model_name" db:"model_name"`
	Fingerprint   string     `json:"fingerprint" db:"fingerprint"`
	SelectedN     int        `json:"selected_n" db:"selected_n"`
	TargetReached bool       `json:"target_reached" db:"target_reached"`
	CreatedAt     string     `json:"created_at" db:"created_at"`
}

// ResultsRepository persists completed power-analysis reports
type ResultsRepository interface {
	SaveReport(ctx context.Context, report *power.Report) error
	GetRun(ctx context.Context, runID core.RunID) (*power.Report, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}

// ReportExporter writes a report to some durable artifact (workbook, document)
type ReportExporter interface {
	Export(ctx context.Context, report *power.Report, dir string) (string, error)
}
