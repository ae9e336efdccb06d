package power

import (
	"fmt"
	"time"

	"gopower/domain/core"
	"gopower/domain/model"
)

// EstimateKind distinguishes free path parameters from derived effects
type EstimateKind string

const (
	KindParameter EstimateKind = "parameter"
	KindEffect    EstimateKind = "effect"
)

// Plan configures a sample-size sweep
type Plan struct {
	From                int      `json:"from"`
	To                  int      `json:"to"`
	Step                int      `json:"step"`
	Replications        int      `json:"replications"`
	ConfirmReplications int      `json:"confirm_replications"`
	MCDraws             int      `json:"mc_draws"`
	CILevel             float64  `json:"ci_level"`
	TargetPower         float64  `json:"target_power"`
	Targets             []string `json:"targets"`
	Seed                int64    `json:"seed"`
	Workers             int      `json:"workers"`
	StopAtTarget        bool     `json:"stop_at_target"`
}

// DefaultPlan mirrors a conventional power analysis: 1000 replications per
// sample size, 95% Monte Carlo intervals from 20000 draws, 80% target power.
func DefaultPlan() Plan {
	return Plan{
		From:                50,
		To:                  500,
		Step:                25,
		Replications:        1000,
		ConfirmReplications: 1000,
		MCDraws:             20000,
		CILevel:             0.95,
		TargetPower:         0.80,
		Seed:                20240901,
		Workers:             1,
	}
}

// SampleSizes lists the swept sample sizes in ascending order
func (p Plan) SampleSizes() []int {
	var sizes []int
	for n := p.From; n <= p.To; n += p.Step {
		sizes = append(sizes, n)
	}
	return sizes
}

// Alpha is the two-sided significance level implied by the CI level
func (p Plan) Alpha() float64 {
	return 1 - p.CILevel
}

// Validate checks the plan for obviously unusable settings
func (p Plan) Validate() error {
	switch {
	case p.From < 2:
		return core.NewPlanError("from", "sample size must be at least 2")
	case p.To < p.From:
		return core.NewPlanError("to", fmt.Sprintf("%d is below from=%d", p.To, p.From))
	case p.Step < 1:
		return core.NewPlanError("step", "must be positive")
	case p.Replications < 1:
		return core.NewPlanError("replications", "must be positive")
	case p.ConfirmReplications < 0:
		return core.NewPlanError("confirm_replications", "cannot be negative")
	case p.MCDraws < 2:
		return core.NewPlanError("mc_draws", "need at least two draws")
	case p.CILevel <= 0 || p.CILevel >= 1:
		return core.NewPlanError("ci_level", "must be in (0, 1)")
	case p.TargetPower <= 0 || p.TargetPower > 1:
		return core.NewPlanError("target_power", "must be in (0, 1]")
	case p.Workers < 1:
		return core.NewPlanError("workers", "must be positive")
	}
	return nil
}

// Estimate is one parameter or effect as seen by a single replication
type Estimate struct {
	Name    string       `json:"name"`
	Kind    EstimateKind `json:"kind"`
	Value   float64      `json:"value"`
	SE      float64      `json:"se"`
	Lower   float64      `json:"lower"`
	Upper   float64      `json:"upper"`
	Reject  bool         `json:"reject"`
	Covered bool         `json:"covered"`
}

// ExcludesZero is the reject decision for an interval
func ExcludesZero(lower, upper float64) bool {
	return lower > 0 || upper < 0
}

// Contains reports whether v lies inside [lower, upper]
func Contains(lower, upper, v float64) bool {
	return lower <= v && v <= upper
}

// ReplicationOutcome is the result of fitting one simulated data set
type ReplicationOutcome struct {
	Index     int        `json:"index"`
	N         int        `json:"n"`
	Converged bool       `json:"converged"`
	Failure   string     `json:"failure,omitempty"`
	Estimates []Estimate `json:"estimates,omitempty"`
}

// Lookup returns the named estimate
func (o ReplicationOutcome) Lookup(name string) (Estimate, bool) {
	for _, e := range o.Estimates {
		if e.Name == name {
			return e, true
		}
	}
	return Estimate{}, false
}

// ParameterSummary aggregates one parameter or effect across replications
type ParameterSummary struct {
	Name            string       `json:"name" db:"name"`
	Kind            EstimateKind `json:"kind" db:"kind"`
	Population      float64      `json:"population" db:"population"`
	EstimateAverage float64      `json:"estimate_average" db:"estimate_average"`
	EstimateSD      float64      `json:"estimate_sd" db:"estimate_sd"`
	AverageSE       float64      `json:"average_se" db:"average_se"`
	AverageCIWidth  float64      `json:"average_ci_width" db:"average_ci_width"`
	Power           float64      `json:"power" db:"power"`
	Coverage        float64      `json:"coverage" db:"coverage"`
}

// Bias is the average estimate minus the population value
func (s ParameterSummary) Bias() float64 {
	return s.EstimateAverage - s.Population
}

// PowerRow is one line of the results table
type PowerRow struct {
	N            int                `json:"n"`
	Replications int                `json:"replications"`
	Converged    int                `json:"converged"`
	Parameters   []ParameterSummary `json:"parameters"`
}

// Summary returns the named parameter summary
func (r PowerRow) Summary(name string) (ParameterSummary, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSummary{}, false
}

// Power returns the estimated power for a name, 0 when absent
func (r PowerRow) Power(name string) float64 {
	s, _ := r.Summary(name)
	return s.Power
}

// ConvergenceRate is the fraction of replications that produced estimates
func (r PowerRow) ConvergenceRate() float64 {
	if r.Replications == 0 {
		return 0
	}
	return float64(r.Converged) / float64(r.Replications)
}

// Report is the complete output of a run: the swept table, the selected
// sample size and the confirmation rerun at that size. Model is the analysed
// spec when the caller supplied it.
type Report struct {
	RunID         core.RunID  `json:"run_id"`
	ModelName     string      `json:"model_name"`
	Fingerprint   core.Hash   `json:"fingerprint"`
	Model         *model.Spec `json:"model,omitempty"`
	Plan          Plan        `json:"plan"`
	Sweep         []PowerRow  `json:"sweep"`
	TargetReached bool        `json:"target_reached"`
	SelectedN     int         `json:"selected_n"`
	Confirmation  *PowerRow   `json:"confirmation,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
