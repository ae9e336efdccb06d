package testkit

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/internal/config"
	"gopower/ports"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ModeratedMediation returns the built-in first-stage moderated mediation model
func ModeratedMediation(tb testing.TB) *model.Spec {
	tb.Helper()
	spec, err := config.DefaultModel()
	require.NoError(tb, err)
	return spec
}

// QuickPlan is small enough to run inside unit tests
func QuickPlan() power.Plan {
	plan := power.DefaultPlan()
	plan.From, plan.To, plan.Step = 60, 120, 30
	plan.Replications = 24
	plan.ConfirmReplications = 24
	plan.MCDraws = 400
	plan.Workers = 4
	plan.Seed = 7
	plan.Targets = []string{"ind_mid"}
	return plan
}

// ScriptedSimulator is a fast ReplicationSimulator whose rejection
// probability grows linearly with n until it reaches 1 at FullPowerN. Its
// decisions depend only on the stream it is handed, so it exposes any
// ordering dependence in a runner.
type ScriptedSimulator struct {
	FullPowerN int
	FailEvery  int
	mu         sync.Mutex
	calls      int
}

var _ ports.ReplicationSimulator = (*ScriptedSimulator)(nil)

// Replicate draws one uniform number and rejects when it falls under the
// scripted power for n
func (s *ScriptedSimulator) Replicate(ctx context.Context, n int, src rand.Source) (power.ReplicationOutcome, error) {
	if err := ctx.Err(); err != nil {
		return power.ReplicationOutcome{}, err
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	r := rand.New(src)
	u := r.Float64()
	if s.FailEvery > 0 && r.IntN(s.FailEvery) == 0 {
		return power.ReplicationOutcome{N: n, Failure: "scripted failure"}, nil
	}

	p := float64(n) / float64(s.FullPowerN)
	reject := u < p
	lower, upper := -0.1, 0.1
	if reject {
		lower = 0.01
	}
	return power.ReplicationOutcome{
		N:         n,
		Converged: true,
		Estimates: []power.Estimate{{
			Name: "ab", Kind: power.KindEffect, Value: u, SE: 0.05,
			Lower: lower, Upper: upper, Reject: reject, Covered: true,
		}},
	}, nil
}

// Targets reports the single scripted effect
func (s *ScriptedSimulator) Targets() []power.SummaryTarget {
	return []power.SummaryTarget{{Name: "ab", Kind: power.KindEffect, Population: 0.1}}
}

// Calls returns how many replications were requested
func (s *ScriptedSimulator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MockSimulator is a testify mock of ports.ReplicationSimulator
type MockSimulator struct {
	mock.Mock
}

func (m *MockSimulator) Replicate(ctx context.Context, n int, src rand.Source) (power.ReplicationOutcome, error) {
	args := m.Called(ctx, n, src)
	return args.Get(0).(power.ReplicationOutcome), args.Error(1)
}

func (m *MockSimulator) Targets() []power.SummaryTarget {
	args := m.Called()
	return args.Get(0).([]power.SummaryTarget)
}

// SampleReport builds a small but complete report for adapter tests
func SampleReport() *power.Report {
	row := func(n int, p float64) power.PowerRow {
		return power.PowerRow{
			N: n, Replications: 100, Converged: 99,
			Parameters: []power.ParameterSummary{
				{Name: "a1", Kind: power.KindParameter, Population: 0.3, EstimateAverage: 0.301, EstimateSD: 0.09, AverageSE: 0.088, AverageCIWidth: 0.35, Power: p + 0.1, Coverage: 0.95},
				{Name: "imm", Kind: power.KindEffect, Population: 0.08, EstimateAverage: 0.081, EstimateSD: 0.04, AverageSE: 0.041, AverageCIWidth: 0.16, Power: p, Coverage: 0.94},
			},
		}
	}
	confirm := row(150, 0.83)
	confirm.Replications = 200
	plan := QuickPlan()
	plan.Targets = []string{"imm"}
	return &power.Report{
		RunID:         "0192d1f0-0000-7000-8000-000000000001",
		ModelName:     "moderated_mediation",
		Fingerprint:   "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Model:         sampleModel(),
		Plan:          plan,
		Sweep:         []power.PowerRow{row(100, 0.61), row(150, 0.82), row(200, 0.93)},
		TargetReached: true,
		SelectedN:     150,
		Confirmation:  &confirm,
		CreatedAt:     time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

// sampleModel is the reduced model behind SampleReport: the a1 and a3 paths
// into M, b1 into Y and the index of moderated mediation.
func sampleModel() *model.Spec {
	return &model.Spec{
		Name: "moderated_mediation",
		Variables: []model.Variable{
			{Name: "X", Kind: model.KindExogenous},
			{Name: "W", Kind: model.KindExogenous},
			{Name: "XW", Kind: model.KindProduct, Factors: []model.VariableName{"X", "W"}},
			{Name: "M", Kind: model.KindEndogenous},
			{Name: "Y", Kind: model.KindEndogenous},
		},
		Exogenous: model.ExogenousMoments{
			Variances: map[model.VariableName]float64{"X": 1, "W": 1},
		},
		Paths: []model.Path{
			{Outcome: "M", Predictor: "X", Label: "a1", Population: 0.3},
			{Outcome: "M", Predictor: "XW", Label: "a3", Population: 0.2},
			{Outcome: "Y", Predictor: "M", Label: "b1", Population: 0.4},
		},
		Residuals: map[model.VariableName]float64{"M": 0.9, "Y": 0.8},
		Effects:   []model.DerivedEffect{{Name: "imm", Expression: "a3 * b1"}},
	}
}
