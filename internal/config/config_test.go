package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gopower/domain/core"
	"gopower/domain/model"
	apperrors "gopower/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POWER_WORKERS", "3")
	cfg, err := Load()
	require.NoError(t, err)

	plan := cfg.Simulation.Plan
	assert.Equal(t, 1000, plan.Replications)
	assert.Equal(t, 0.80, plan.TargetPower)
	assert.Equal(t, 3, plan.Workers)
	assert.Equal(t, "gopower.db", cfg.Database.URL)
	assert.Equal(t, "out", cfg.Paths.OutputDir)
}

func TestWorkersDefaultToCPUCount(t *testing.T) {
	t.Setenv("POWER_WORKERS", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), cfg.Simulation.Plan.Workers)

	assert.Equal(t, runtime.NumCPU(), ResolveWorkers(-2))
	assert.Equal(t, 5, ResolveWorkers(5))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POWER_N_FROM", "100")
	t.Setenv("POWER_N_TO", "300")
	t.Setenv("POWER_SEED", "99")
	t.Setenv("POWER_TARGETS", "imm, ind_high ,")
	t.Setenv("POWER_STOP_AT_TARGET", "true")
	t.Setenv("DATABASE_URL", "postgres://localhost/power")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Simulation.Plan.From)
	assert.Equal(t, 300, cfg.Simulation.Plan.To)
	assert.Equal(t, int64(99), cfg.Simulation.Plan.Seed)
	assert.Equal(t, []string{"imm", "ind_high"}, cfg.Simulation.Plan.Targets)
	assert.True(t, cfg.Simulation.Plan.StopAtTarget)
	assert.Equal(t, "postgres://localhost/power", cfg.Database.URL)
}

func TestLoadRejectsBadPlan(t *testing.T) {
	t.Setenv("POWER_CI_LEVEL", "1.5")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.True(t, errors.Is(err, core.ErrInvalidPlan))
}

func TestDefaultModel(t *testing.T) {
	spec, err := DefaultModel()
	require.NoError(t, err)

	assert.Equal(t, "moderated_mediation", spec.Name)
	assert.Equal(t, []string{"a1", "a2", "a3", "b1", "cp"}, spec.FreeLabels())
	assert.Equal(t, []string{"ind_low", "ind_mid", "ind_high", "imm"}, spec.EffectNames())

	xw, ok := spec.Variable("XW")
	require.True(t, ok)
	assert.Equal(t, model.KindProduct, xw.Kind)
	assert.Equal(t, []model.VariableName{"X", "W"}, xw.Factors)
}

func TestParseModelRejectsUnknownFields(t *testing.T) {
	_, err := ParseModel([]byte("name: m\nvariabls: []\n"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationError, apperrors.GetCode(err))
}

func TestLoadModelFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simple.yaml")
	content := `name: simple_mediation
variables:
  - {name: X, kind: exogenous}
  - {name: M, kind: endogenous}
  - {name: Y, kind: endogenous}
paths:
  - {outcome: M, predictor: X, label: a, population: 0.39}
  - {outcome: Y, predictor: M, label: b, population: 0.39}
  - {outcome: Y, predictor: X, fixed: 0, population: 0}
residuals: {M: 0.8}
effects:
  - {name: ab, expr: "a * b"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	spec, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, spec.FreeLabels())
	assert.Equal(t, 0.8, spec.Residuals["M"])
	assert.False(t, spec.PathMatrix()[model.PathKey{Outcome: "Y", Predictor: "X"}].IsFree())

	_, err = LoadModel(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	builtin, err := LoadModel("")
	require.NoError(t, err)
	assert.Equal(t, "moderated_mediation", builtin.Name)
}
