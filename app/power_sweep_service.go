package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopower/domain/core"
	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal"
	"gopower/ports"
)

// confirmSeedOffset separates the confirmation streams from the sweep streams
// at the same sample size.
const confirmSeedOffset = 1_000_003

// PowerSweepService drives the sample-size sweep, picks the smallest
// sufficient sample size and reruns it for reporting.
type PowerSweepService struct {
	runner    *ReplicationRunner
	repo      ports.ResultsRepository
	exporters []ports.ReportExporter
	logger    *internal.Logger
}

// RunRequest identifies the model being analysed and where outputs go. Model
// is optional and is stored on the report for its model summary.
type RunRequest struct {
	ModelName   string
	Fingerprint core.Hash
	Model       *model.Spec
	Plan        power.Plan
	OutputDir   string
}

// NewPowerSweepService creates the service. repo may be nil to skip persistence.
func NewPowerSweepService(runner *ReplicationRunner, repo ports.ResultsRepository, exporters ...ports.ReportExporter) *PowerSweepService {
	return &PowerSweepService{
		runner:    runner,
		repo:      repo,
		exporters: exporters,
		logger:    internal.DefaultLogger.With("sweep"),
	}
}

// ResolveTargets returns the names whose power decides the sample size. An
// empty list selects every derived effect, or every parameter when the model
// has no effects.
func (s *PowerSweepService) ResolveTargets(plan power.Plan) ([]string, error) {
	known := s.runner.Targets()
	if len(plan.Targets) == 0 {
		var effects, params []string
		for _, t := range known {
			if t.Kind == power.KindEffect {
				effects = append(effects, t.Name)
			} else {
				params = append(params, t.Name)
			}
		}
		if len(effects) > 0 {
			return effects, nil
		}
		return params, nil
	}

	names := make(map[string]bool, len(known))
	for _, t := range known {
		names[t.Name] = true
	}
	for _, name := range plan.Targets {
		if !names[name] {
			return nil, core.NewPlanError("targets", fmt.Sprintf("%s is neither a parameter nor an effect", name))
		}
	}
	return plan.Targets, nil
}

// Sweep runs plan.Replications replications at every swept sample size and
// tabulates the power of every parameter and effect.
func (s *PowerSweepService) Sweep(ctx context.Context, plan power.Plan) (*power.ResultsTable, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	targets, err := s.ResolveTargets(plan)
	if err != nil {
		return nil, err
	}

	table := power.NewResultsTable()
	for _, n := range plan.SampleSizes() {
		start := time.Now()
		outcomes, err := s.runner.Run(ctx, Batch{N: n, Replications: plan.Replications, Seed: plan.Seed, Workers: plan.Workers})
		if err != nil {
			return nil, fmt.Errorf("sweep at n=%d: %w", n, err)
		}

		row := power.Summarize(n, outcomes, s.runner.Targets())
		if err := table.Append(row); err != nil {
			return nil, err
		}
		s.logger.Info("n=%d converged=%d/%d %s (%s)", n, row.Converged, row.Replications,
			formatPowers(row, targets), time.Since(start).Round(time.Millisecond))

		if plan.StopAtTarget && power.MeetsTarget(row, targets, plan.TargetPower) {
			s.logger.Info("target power %.2f reached at n=%d, stopping sweep", plan.TargetPower, n)
			break
		}
	}
	return table, nil
}

// Select returns the smallest swept sample size at which every target reaches
// the target power.
func (s *PowerSweepService) Select(table *power.ResultsTable, plan power.Plan) (int, error) {
	targets, err := s.ResolveTargets(plan)
	if err != nil {
		return 0, err
	}
	n, ok := table.MinimumN(targets, plan.TargetPower)
	if !ok {
		return 0, fmt.Errorf("%w: %s below %.2f up to n=%d", core.ErrTargetNotReached,
			strings.Join(targets, ", "), plan.TargetPower, plan.To)
	}
	return n, nil
}

// Confirm reruns the analysis once at the chosen sample size with
// independent streams, for reporting.
func (s *PowerSweepService) Confirm(ctx context.Context, n int, plan power.Plan) (power.PowerRow, error) {
	reps := plan.ConfirmReplications
	if reps == 0 {
		reps = plan.Replications
	}
	outcomes, err := s.runner.Run(ctx, Batch{N: n, Replications: reps, Seed: plan.Seed + confirmSeedOffset, Workers: plan.Workers})
	if err != nil {
		return power.PowerRow{}, fmt.Errorf("confirmation at n=%d: %w", n, err)
	}
	return power.Summarize(n, outcomes, s.runner.Targets()), nil
}

// Execute performs the full analysis: sweep, select, confirm, persist and
// export. Not reaching the target power is reported, not returned as an error.
// The stored plan carries the resolved targets so reports show the same
// columns the selection used.
func (s *PowerSweepService) Execute(ctx context.Context, req RunRequest) (*power.Report, error) {
	plan := req.Plan
	targets, err := s.ResolveTargets(plan)
	if err != nil {
		return nil, err
	}
	plan.Targets = targets

	report := &power.Report{
		RunID:       core.NewRunID(),
		ModelName:   req.ModelName,
		Fingerprint: req.Fingerprint,
		Model:       req.Model,
		Plan:        plan,
		CreatedAt:   time.Now().UTC(),
	}
	s.logger.Info("run %s: model %s, n=%d..%d step %d, %d replications",
		report.RunID, req.ModelName, plan.From, plan.To, plan.Step, plan.Replications)

	table, err := s.Sweep(ctx, plan)
	if err != nil {
		return nil, err
	}
	report.Sweep = table.Rows()

	selected, err := s.Select(table, plan)
	switch {
	case errors.Is(err, core.ErrTargetNotReached):
		s.logger.Warn("%v", err)
	case err != nil:
		return nil, err
	default:
		report.TargetReached = true
		report.SelectedN = selected
		s.logger.Info("selected n=%d, confirming", selected)

		row, err := s.Confirm(ctx, selected, plan)
		if err != nil {
			return nil, err
		}
		report.Confirmation = &row
	}

	if s.repo != nil {
		if err := s.repo.SaveReport(ctx, report); err != nil {
			return nil, fmt.Errorf("saving run %s: %w", report.RunID, err)
		}
	}
	for _, exp := range s.exporters {
		path, err := exp.Export(ctx, report, req.OutputDir)
		if err != nil {
			return nil, err
		}
		s.logger.Info("wrote %s", path)
	}
	return report, nil
}

func formatPowers(row power.PowerRow, names []string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, row.Power(name)))
	}
	return strings.Join(parts, " ")
}
