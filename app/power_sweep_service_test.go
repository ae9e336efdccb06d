package app

import (
	"context"
	"errors"
	"testing"

	"gopower/adapters/report"
	"gopower/adapters/rng"
	"gopower/adapters/sem"
	"gopower/domain/core"
	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal/testkit"
	"gopower/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) SaveReport(ctx context.Context, report *power.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *mockRepository) GetRun(ctx context.Context, runID core.RunID) (*power.Report, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(*power.Report), args.Error(1)
}

func (m *mockRepository) ListRuns(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]ports.RunSummary), args.Error(1)
}

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, report *power.Report, dir string) (string, error) {
	args := m.Called(ctx, report, dir)
	return args.String(0), args.Error(1)
}

func scriptedPlan() power.Plan {
	plan := power.DefaultPlan()
	plan.From, plan.To, plan.Step = 100, 300, 100
	plan.Replications = 200
	plan.ConfirmReplications = 50
	plan.Workers = 4
	plan.Seed = 11
	plan.Targets = []string{"ab"}
	return plan
}

func TestReplicationRunnerIsWorkerCountInvariant(t *testing.T) {
	sim := &testkit.ScriptedSimulator{FullPowerN: 200, FailEvery: 7}
	runner := NewReplicationRunner(sim, rng.NewPCGStreams())
	ctx := context.Background()

	serial, err := runner.Run(ctx, Batch{N: 120, Replications: 64, Seed: 5, Workers: 1})
	require.NoError(t, err)
	parallel, err := runner.Run(ctx, Batch{N: 120, Replications: 64, Seed: 5, Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
	for i, o := range serial {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, 120, o.N)
	}
	assert.Equal(t, 128, sim.Calls())

	other, err := runner.Run(ctx, Batch{N: 120, Replications: 64, Seed: 6, Workers: 8})
	require.NoError(t, err)
	assert.NotEqual(t, serial, other)
}

func TestReplicationRunnerIsWorkerCountInvariantForPathModel(t *testing.T) {
	spec := testkit.ModeratedMediation(t)
	sim, err := sem.NewSimulator(spec, sem.SimulatorConfig{MCDraws: 400, CILevel: 0.95})
	require.NoError(t, err)
	runner := NewReplicationRunner(sim, rng.NewPCGStreams())
	ctx := context.Background()

	serial, err := runner.Run(ctx, Batch{N: 40, Replications: 40, Seed: 11, Workers: 1})
	require.NoError(t, err)
	parallel, err := runner.Run(ctx, Batch{N: 40, Replications: 40, Seed: 11, Workers: 8})
	require.NoError(t, err)

	require.Len(t, serial, 40)
	assert.Equal(t, serial, parallel)
}

func TestReplicationRunnerPropagatesErrors(t *testing.T) {
	sim := &testkit.MockSimulator{}
	sim.On("Replicate", mock.Anything, 50, mock.Anything).Return(power.ReplicationOutcome{}, errors.New("generator exploded"))
	runner := NewReplicationRunner(sim, rng.NewPCGStreams())

	_, err := runner.Run(context.Background(), Batch{N: 50, Replications: 3, Seed: 1, Workers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator exploded")

	_, err = runner.Run(context.Background(), Batch{N: 50, Replications: 0})
	assert.Error(t, err)
}

func TestReplicationRunnerHonoursCancellation(t *testing.T) {
	runner := NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 100}, rng.NewPCGStreams())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, Batch{N: 50, Replications: 10, Seed: 1, Workers: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepTabulatesEverySampleSize(t *testing.T) {
	sim := &testkit.ScriptedSimulator{FullPowerN: 200, FailEvery: 10}
	svc := NewPowerSweepService(NewReplicationRunner(sim, rng.NewPCGStreams()), nil)

	table, err := svc.Sweep(context.Background(), scriptedPlan())
	require.NoError(t, err)

	rows := table.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, []int{100, 200, 300}, []int{rows[0].N, rows[1].N, rows[2].N})

	assert.InDelta(t, 0.5, rows[0].Power("ab"), 0.12)
	assert.Equal(t, 1.0, rows[1].Power("ab"))
	assert.Equal(t, 1.0, rows[2].Power("ab"))
	for _, r := range rows {
		assert.Equal(t, 200, r.Replications)
		assert.Less(t, r.Converged, r.Replications, "scripted failures are excluded")
	}

	n, err := svc.Select(table, scriptedPlan())
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}

func TestSweepIsReproducible(t *testing.T) {
	run := func(workers int) []power.PowerRow {
		plan := scriptedPlan()
		plan.Workers = workers
		svc := NewPowerSweepService(NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 250}, rng.NewPCGStreams()), nil)
		table, err := svc.Sweep(context.Background(), plan)
		require.NoError(t, err)
		return table.Rows()
	}
	assert.Equal(t, run(1), run(6))
}

func TestSweepStopsAtTarget(t *testing.T) {
	sim := &testkit.ScriptedSimulator{FullPowerN: 200}
	svc := NewPowerSweepService(NewReplicationRunner(sim, rng.NewPCGStreams()), nil)

	plan := scriptedPlan()
	plan.StopAtTarget = true
	table, err := svc.Sweep(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 2*plan.Replications, sim.Calls())
}

func TestSweepRejectsUnknownTargets(t *testing.T) {
	svc := NewPowerSweepService(NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 200}, rng.NewPCGStreams()), nil)

	plan := scriptedPlan()
	plan.Targets = []string{"nope"}
	_, err := svc.Sweep(context.Background(), plan)
	assert.True(t, errors.Is(err, core.ErrInvalidPlan))

	plan = scriptedPlan()
	plan.Targets = nil
	targets, err := svc.ResolveTargets(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab"}, targets, "effects are the default targets")
}

func TestSelectReportsTargetNotReached(t *testing.T) {
	svc := NewPowerSweepService(NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 100000}, rng.NewPCGStreams()), nil)
	plan := scriptedPlan()

	table, err := svc.Sweep(context.Background(), plan)
	require.NoError(t, err)
	_, err = svc.Select(table, plan)
	assert.True(t, errors.Is(err, core.ErrTargetNotReached))
}

func TestExecutePersistsAndExports(t *testing.T) {
	repo := &mockRepository{}
	repo.On("SaveReport", mock.Anything, mock.AnythingOfType("*power.Report")).Return(nil)
	exp := &mockExporter{}
	exp.On("Export", mock.Anything, mock.AnythingOfType("*power.Report"), "out").Return("out/report.md", nil)

	svc := NewPowerSweepService(NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 200}, rng.NewPCGStreams()), repo, exp)
	report, err := svc.Execute(context.Background(), RunRequest{
		ModelName:   "scripted",
		Fingerprint: core.NewHash([]byte("scripted")),
		Plan:        scriptedPlan(),
		OutputDir:   "out",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.TargetReached)
	assert.Equal(t, 200, report.SelectedN)
	require.NotNil(t, report.Confirmation)
	assert.Equal(t, 200, report.Confirmation.N)
	assert.Equal(t, 50, report.Confirmation.Replications)
	assert.Len(t, report.Sweep, 3)

	repo.AssertExpectations(t)
	exp.AssertExpectations(t)
}

func TestExecuteWithoutReachingTarget(t *testing.T) {
	repo := &mockRepository{}
	repo.On("SaveReport", mock.Anything, mock.Anything).Return(nil)

	svc := NewPowerSweepService(NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 100000}, rng.NewPCGStreams()), repo)
	report, err := svc.Execute(context.Background(), RunRequest{ModelName: "scripted", Plan: scriptedPlan()})
	require.NoError(t, err)

	assert.False(t, report.TargetReached)
	assert.Zero(t, report.SelectedN)
	assert.Nil(t, report.Confirmation)
	repo.AssertNumberOfCalls(t, "SaveReport", 1)
}

func TestExecuteSurfacesPersistenceErrors(t *testing.T) {
	repo := &mockRepository{}
	repo.On("SaveReport", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	svc := NewPowerSweepService(NewReplicationRunner(&testkit.ScriptedSimulator{FullPowerN: 200}, rng.NewPCGStreams()), repo)
	_, err := svc.Execute(context.Background(), RunRequest{ModelName: "scripted", Plan: scriptedPlan()})
	assert.ErrorContains(t, err, "disk full")
}

// simpleRegression is a single labelled path with no derived effects
func simpleRegression() *model.Spec {
	return &model.Spec{
		Name: "simple_regression",
		Variables: []model.Variable{
			{Name: "X", Kind: model.KindExogenous},
			{Name: "Y", Kind: model.KindEndogenous},
		},
		Paths: []model.Path{{Outcome: "Y", Predictor: "X", Label: "b", Population: 0.6}},
	}
}

func TestExecuteStoresResolvedTargetsForModelsWithoutEffects(t *testing.T) {
	spec := simpleRegression()
	plan := power.Plan{
		From: 60, To: 120, Step: 30,
		Replications: 20, ConfirmReplications: 20, MCDraws: 200,
		CILevel: 0.95, TargetPower: 0.8, Seed: 3, Workers: 2,
	}
	sim, err := sem.NewSimulator(spec, sem.SimulatorConfig{MCDraws: plan.MCDraws, CILevel: plan.CILevel})
	require.NoError(t, err)
	svc := NewPowerSweepService(NewReplicationRunner(sim, rng.NewPCGStreams()), nil)

	rep, err := svc.Execute(context.Background(), RunRequest{ModelName: spec.Name, Model: spec, Plan: plan})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, rep.Plan.Targets)
	assert.Same(t, spec, rep.Model)

	md := string(report.Markdown(rep))
	assert.Contains(t, md, "| N | Converged | b |")
	assert.Contains(t, md, "| Y | X | b | 0.6000 |")
	assert.NotContains(t, md, "| N | Converged |\n")
}

func TestSweepWithPathModel(t *testing.T) {
	spec := testkit.ModeratedMediation(t)
	plan := testkit.QuickPlan()

	sim, err := sem.NewSimulator(spec, sem.SimulatorConfig{MCDraws: plan.MCDraws, CILevel: plan.CILevel})
	require.NoError(t, err)
	svc := NewPowerSweepService(NewReplicationRunner(sim, rng.NewPCGStreams()), nil)

	table, err := svc.Sweep(context.Background(), plan)
	require.NoError(t, err)
	rows := table.Rows()
	require.Len(t, rows, 3)

	for _, r := range rows {
		assert.Equal(t, plan.Replications, r.Converged)
		require.Len(t, r.Parameters, 9)
		for _, p := range r.Parameters {
			assert.GreaterOrEqual(t, p.Power, 0.0)
			assert.LessOrEqual(t, p.Power, 1.0)
		}
		mid, ok := r.Summary("ind_mid")
		require.True(t, ok)
		assert.InDelta(t, 0.12, mid.Population, 1e-12)
	}

	again, err := svc.Sweep(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, rows, again.Rows(), "same seed and inputs give identical results")
}
