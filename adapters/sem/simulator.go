package sem

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"gopower/adapters/montecarlo"
	"gopower/domain/core"
	"gopower/domain/model"
	"gopower/domain/power"
	"gopower/ports"

	"gonum.org/v1/gonum/stat/distuv"
)

// SimulatorConfig controls inference in each replication
type SimulatorConfig struct {
	MCDraws int
	CILevel float64
}

// Simulator runs one replication: generate, fit, build intervals, decide.
// Free parameters are tested with Wald intervals, derived effects with Monte
// Carlo intervals.
type Simulator struct {
	spec      *model.Spec
	generator *Generator
	estimator *Estimator
	effects   []*CompiledEffect
	mcEffects []montecarlo.Effect
	cfg       SimulatorConfig
	zCrit     float64
	truth     map[string]float64
	targets   []power.SummaryTarget
}

var _ ports.ReplicationSimulator = (*Simulator)(nil)

// NewSimulator validates the spec and prepares all reusable state
func NewSimulator(spec *model.Spec, cfg SimulatorConfig) (*Simulator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if cfg.CILevel <= 0 || cfg.CILevel >= 1 {
		return nil, core.NewPlanError("ci_level", "must be in (0, 1)")
	}
	if cfg.MCDraws < 2 {
		return nil, core.NewPlanError("mc_draws", "need at least two draws")
	}

	gen, err := NewGenerator(spec)
	if err != nil {
		return nil, err
	}
	est, err := NewEstimator(spec)
	if err != nil {
		return nil, err
	}
	effects, err := CompileEffects(spec)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		spec:      spec,
		generator: gen,
		estimator: est,
		effects:   effects,
		cfg:       cfg,
		zCrit:     distuv.UnitNormal.Quantile(1 - (1-cfg.CILevel)/2),
		truth:     spec.PopulationValues(),
	}

	for _, l := range est.Labels() {
		s.targets = append(s.targets, power.SummaryTarget{Name: l, Kind: power.KindParameter, Population: s.truth[l]})
	}
	for _, e := range effects {
		v, err := e.EvalValues(s.truth)
		if err != nil {
			return nil, fmt.Errorf("%w: population value of %s: %v", core.ErrInvalidEffect, e.Name(), err)
		}
		s.truth[e.Name()] = v
		s.targets = append(s.targets, power.SummaryTarget{Name: e.Name(), Kind: power.KindEffect, Population: v})
		s.mcEffects = append(s.mcEffects, e)
	}
	return s, nil
}

// Targets lists every reported parameter and effect with its population value
func (s *Simulator) Targets() []power.SummaryTarget {
	out := make([]power.SummaryTarget, len(s.targets))
	copy(out, s.targets)
	return out
}

// Moments exposes the population moments for reporting
func (s *Simulator) Moments() *Moments {
	return s.generator.Moments()
}

// Replicate simulates and analyses one data set of size n. Estimation
// failures are reported as a non-converged outcome, not as an error.
func (s *Simulator) Replicate(ctx context.Context, n int, src rand.Source) (power.ReplicationOutcome, error) {
	outcome := power.ReplicationOutcome{N: n}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	data, err := s.generator.Generate(n, src)
	if err != nil {
		return outcome, err
	}

	fit, err := s.estimator.Fit(data)
	if err != nil {
		return nonConverged(outcome, err)
	}

	for i, label := range fit.Labels {
		value, se := fit.Estimates[i], fit.SE(i)
		lower, upper := value-s.zCrit*se, value+s.zCrit*se
		outcome.Estimates = append(outcome.Estimates, power.Estimate{
			Name:    label,
			Kind:    power.KindParameter,
			Value:   value,
			SE:      se,
			Lower:   lower,
			Upper:   upper,
			Reject:  power.ExcludesZero(lower, upper),
			Covered: power.Contains(lower, upper, s.truth[label]),
		})
	}

	intervals, err := montecarlo.Intervals(ctx, fit.Labels, fit.Estimates, fit.Cov, s.mcEffects,
		montecarlo.Config{Draws: s.cfg.MCDraws, Level: s.cfg.CILevel}, src)
	if err != nil {
		return nonConverged(outcome, err)
	}
	for _, ci := range intervals {
		outcome.Estimates = append(outcome.Estimates, power.Estimate{
			Name:    ci.Name,
			Kind:    power.KindEffect,
			Value:   ci.Estimate,
			SE:      ci.SE,
			Lower:   ci.Lower,
			Upper:   ci.Upper,
			Reject:  power.ExcludesZero(ci.Lower, ci.Upper),
			Covered: power.Contains(ci.Lower, ci.Upper, s.truth[ci.Name]),
		})
	}

	outcome.Converged = true
	return outcome, nil
}

func nonConverged(outcome power.ReplicationOutcome, err error) (power.ReplicationOutcome, error) {
	if !errors.Is(err, core.ErrNonConvergence) {
		return outcome, err
	}
	outcome.Converged = false
	outcome.Failure = err.Error()
	outcome.Estimates = nil
	return outcome, nil
}
