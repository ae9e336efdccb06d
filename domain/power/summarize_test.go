package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragePowerIsFractionOfTrue(t *testing.T) {
	tests := []struct {
		name      string
		decisions []bool
		expected  float64
	}{
		{"empty", nil, 0},
		{"all reject", []bool{true, true, true}, 1},
		{"none reject", []bool{false, false}, 0},
		{"mixed", []bool{true, false, true, false, true}, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AveragePower(tt.decisions)
			assert.InDelta(t, tt.expected, got, 1e-12)

			trues := 0
			for _, d := range tt.decisions {
				if d {
					trues++
				}
			}
			if len(tt.decisions) > 0 {
				assert.InDelta(t, float64(trues)/float64(len(tt.decisions)), got, 1e-12)
			}
		})
	}
}

func TestIntervalDecisions(t *testing.T) {
	assert.True(t, ExcludesZero(0.01, 0.4))
	assert.True(t, ExcludesZero(-0.4, -0.01))
	assert.False(t, ExcludesZero(-0.1, 0.2))
	assert.False(t, ExcludesZero(0, 0.2), "a bound touching zero does not reject")

	assert.True(t, Contains(0.1, 0.3, 0.2))
	assert.True(t, Contains(0.1, 0.3, 0.3))
	assert.False(t, Contains(0.1, 0.3, 0.31))
}

func TestSummarizeExcludesNonConverged(t *testing.T) {
	outcomes := []ReplicationOutcome{
		{Index: 0, Converged: true, Estimates: []Estimate{
			{Name: "ab", Kind: KindEffect, Value: 0.10, SE: 0.04, Lower: 0.02, Upper: 0.18, Reject: true, Covered: true},
		}},
		{Index: 1, Converged: true, Estimates: []Estimate{
			{Name: "ab", Kind: KindEffect, Value: 0.02, SE: 0.04, Lower: -0.06, Upper: 0.10, Reject: false, Covered: false},
		}},
		{Index: 2, Converged: false, Failure: "singular design"},
	}

	row := Summarize(100, outcomes, []SummaryTarget{{Name: "ab", Kind: KindEffect, Population: 0.09}})

	assert.Equal(t, 100, row.N)
	assert.Equal(t, 3, row.Replications)
	assert.Equal(t, 2, row.Converged)
	assert.InDelta(t, 2.0/3.0, row.ConvergenceRate(), 1e-12)

	s, ok := row.Summary("ab")
	require.True(t, ok)
	assert.InDelta(t, 0.5, s.Power, 1e-12)
	assert.InDelta(t, 0.5, s.Coverage, 1e-12)
	assert.InDelta(t, 0.06, s.EstimateAverage, 1e-12)
	assert.InDelta(t, 0.0565685, s.EstimateSD, 1e-6)
	assert.InDelta(t, 0.04, s.AverageSE, 1e-12)
	assert.InDelta(t, 0.16, s.AverageCIWidth, 1e-12)
	assert.InDelta(t, -0.03, s.Bias(), 1e-12)
}

func TestSummarizeWithNothingConverged(t *testing.T) {
	row := Summarize(50, []ReplicationOutcome{{Converged: false}}, []SummaryTarget{{Name: "a", Kind: KindParameter, Population: 0.3}})
	require.Len(t, row.Parameters, 1)
	assert.Equal(t, 0.0, row.Parameters[0].Power)
	assert.Equal(t, 0.0, row.Parameters[0].EstimateAverage)
	assert.Equal(t, 0.0, row.Parameters[0].EstimateSD)
	assert.Equal(t, 0.3, row.Parameters[0].Population)
}

func row(n int, powers map[string]float64) PowerRow {
	r := PowerRow{N: n, Replications: 10, Converged: 10}
	for name, p := range powers {
		r.Parameters = append(r.Parameters, ParameterSummary{Name: name, Power: p})
	}
	return r
}

func TestResultsTableAppendOnly(t *testing.T) {
	table := NewResultsTable()
	require.NoError(t, table.Append(row(100, map[string]float64{"imm": 0.4})))
	require.NoError(t, table.Append(row(50, map[string]float64{"imm": 0.2})))
	assert.Error(t, table.Append(row(100, map[string]float64{"imm": 0.9})))

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 100, rows[0].N, "rows keep insertion order")
	assert.Equal(t, 50, rows[1].N)

	rows[0].N = 999
	got, ok := table.Lookup(100)
	assert.True(t, ok, "mutating the copy must not change the table")
	assert.Equal(t, 0.4, got.Power("imm"))
}

func TestResultsTableMinimumN(t *testing.T) {
	table := NewResultsTable()
	for _, r := range []PowerRow{
		row(50, map[string]float64{"imm": 0.3, "ind": 0.9}),
		row(100, map[string]float64{"imm": 0.79, "ind": 0.95}),
		row(150, map[string]float64{"imm": 0.81, "ind": 0.99}),
		row(200, map[string]float64{"imm": 0.90, "ind": 1.0}),
	} {
		require.NoError(t, table.Append(r))
	}

	n, ok := table.MinimumN([]string{"imm", "ind"}, 0.80)
	assert.True(t, ok)
	assert.Equal(t, 150, n)

	n, ok = table.MinimumN([]string{"ind"}, 0.80)
	assert.True(t, ok)
	assert.Equal(t, 50, n)

	_, ok = table.MinimumN([]string{"imm"}, 0.95)
	assert.False(t, ok)

	_, ok = table.MinimumN([]string{"missing"}, 0.5)
	assert.False(t, ok)

	_, ok = table.MinimumN(nil, 0.5)
	assert.False(t, ok)
}

func TestPlanValidateAndSizes(t *testing.T) {
	plan := DefaultPlan()
	require.NoError(t, plan.Validate())
	assert.InDelta(t, 0.05, plan.Alpha(), 1e-12)

	plan.From, plan.To, plan.Step = 100, 160, 25
	assert.Equal(t, []int{100, 125, 150}, plan.SampleSizes())

	bad := []func(p *Plan){
		func(p *Plan) { p.From = 1 },
		func(p *Plan) { p.To = p.From - 1 },
		func(p *Plan) { p.Step = 0 },
		func(p *Plan) { p.Replications = 0 },
		func(p *Plan) { p.MCDraws = 1 },
		func(p *Plan) { p.CILevel = 1 },
		func(p *Plan) { p.TargetPower = 0 },
		func(p *Plan) { p.Workers = 0 },
	}
	for i, mutate := range bad {
		p := DefaultPlan()
		mutate(&p)
		assert.Error(t, p.Validate(), "case %d", i)
	}
}
