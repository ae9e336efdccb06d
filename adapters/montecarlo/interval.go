// Package montecarlo builds Monte Carlo confidence intervals for functions of
// estimated parameters: parameter vectors are drawn from the asymptotic
// sampling distribution N(estimate, acov) and the function is evaluated on
// every draw.
package montecarlo

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gopower/domain/core"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Effect is a derived quantity evaluated from a label -> value environment
type Effect interface {
	Name() string
	Eval(env map[string]any) (float64, error)
}

// Config controls the number of draws and the interval level
type Config struct {
	Draws int
	Level float64
}

// Interval is a Monte Carlo interval for one effect
type Interval struct {
	Name     string
	Estimate float64
	SE       float64
	Lower    float64
	Upper    float64
}

// Intervals draws cfg.Draws parameter vectors from N(mu, cov) and returns a
// percentile interval per effect. Estimate is the effect evaluated at mu.
func Intervals(ctx context.Context, labels []string, mu []float64, cov mat.Symmetric, effects []Effect, cfg Config, src rand.Source) ([]Interval, error) {
	if len(labels) != len(mu) || cov.SymmetricDim() != len(mu) {
		return nil, fmt.Errorf("montecarlo: %d labels, %d estimates and %d-dim covariance do not match", len(labels), len(mu), cov.SymmetricDim())
	}
	if cfg.Draws < 2 {
		return nil, fmt.Errorf("montecarlo: need at least 2 draws, got %d", cfg.Draws)
	}
	if cfg.Level <= 0 || cfg.Level >= 1 {
		return nil, fmt.Errorf("montecarlo: level %g outside (0, 1)", cfg.Level)
	}
	if len(effects) == 0 {
		return nil, nil
	}

	env := make(map[string]any, len(labels))
	setEnv(env, labels, mu)

	out := make([]Interval, len(effects))
	for j, e := range effects {
		v, err := e.Eval(env)
		if err != nil {
			return nil, fmt.Errorf("montecarlo: evaluating %s at the estimates: %w", e.Name(), err)
		}
		out[j] = Interval{Name: e.Name(), Estimate: v}
	}

	normal, ok := distmv.NewNormal(mu, cov, src)
	if !ok {
		return nil, core.NewConvergenceError("parameter covariance", "not positive definite")
	}

	draws := make([][]float64, len(effects))
	for j := range draws {
		draws[j] = make([]float64, cfg.Draws)
	}

	x := make([]float64, len(mu))
	for d := 0; d < cfg.Draws; d++ {
		if d%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		normal.Rand(x)
		setEnv(env, labels, x)
		for j, e := range effects {
			v, err := e.Eval(env)
			if err != nil {
				return nil, fmt.Errorf("montecarlo: evaluating %s: %w", e.Name(), err)
			}
			draws[j][d] = v
		}
	}

	tail := 100 * (1 - cfg.Level) / 2
	for j := range effects {
		lower, err := stats.PercentileNearestRank(draws[j], tail)
		if err != nil {
			return nil, fmt.Errorf("montecarlo: lower bound for %s: %w", out[j].Name, err)
		}
		upper, err := stats.PercentileNearestRank(draws[j], 100-tail)
		if err != nil {
			return nil, fmt.Errorf("montecarlo: upper bound for %s: %w", out[j].Name, err)
		}
		sd, err := stats.StandardDeviationSample(draws[j])
		if err != nil {
			return nil, fmt.Errorf("montecarlo: spread of %s: %w", out[j].Name, err)
		}
		out[j].Lower, out[j].Upper, out[j].SE = lower, upper, sd
	}
	return out, nil
}

func setEnv(env map[string]any, labels []string, values []float64) {
	for i, l := range labels {
		env[l] = values[i]
	}
}
