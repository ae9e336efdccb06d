package sem

import (
	"fmt"
	"math"

	"gopower/domain/core"
	"gopower/domain/model"

	"gonum.org/v1/gonum/mat"
)

// maxCondition bounds the condition number of XᵀX before an equation is
// treated as not estimable.
const maxCondition = 1e12

type regressionEquation struct {
	name     model.VariableName
	outcome  int
	free     []int
	labels   []int
	fixed    []int
	fixedVal []float64
}

// Estimator fits every structural equation by ordinary least squares. In a
// recursive model with uncorrelated residuals the equations are independent,
// so the joint parameter covariance is block diagonal.
type Estimator struct {
	labels    []string
	columns   int
	equations []regressionEquation
}

// Fit holds the estimates of one data set, ordered like Labels
type Fit struct {
	N         int
	Labels    []string
	Estimates []float64
	Cov       *mat.SymDense
	Residual  map[model.VariableName]float64
}

// SE returns the standard error of the i-th label
func (f *Fit) SE(i int) float64 {
	return math.Sqrt(f.Cov.At(i, i))
}

// Values returns the estimates keyed by label
func (f *Fit) Values() map[string]float64 {
	out := make(map[string]float64, len(f.Labels))
	for i, l := range f.Labels {
		out[l] = f.Estimates[i]
	}
	return out
}

// NewEstimator prepares the regression equations for a validated spec
func NewEstimator(spec *model.Spec) (*Estimator, error) {
	order, err := spec.EndogenousOrder()
	if err != nil {
		return nil, err
	}

	e := &Estimator{labels: spec.FreeLabels(), columns: len(spec.Variables)}
	pos := make(map[string]int, len(e.labels))
	for i, l := range e.labels {
		pos[l] = i
	}
	col := make(map[model.VariableName]int, len(spec.Variables))
	for i, v := range spec.Variables {
		col[v.Name] = i
	}

	for _, y := range order {
		eq := regressionEquation{name: y, outcome: col[y]}
		for _, path := range spec.PathsTo(y) {
			if path.Value().IsFree() {
				eq.free = append(eq.free, col[path.Predictor])
				eq.labels = append(eq.labels, pos[path.Label])
			} else {
				eq.fixed = append(eq.fixed, col[path.Predictor])
				eq.fixedVal = append(eq.fixedVal, path.TrueValue())
			}
		}
		e.equations = append(e.equations, eq)
	}
	return e, nil
}

// Labels returns the free parameter labels in estimate order
func (e *Estimator) Labels() []string {
	return e.labels
}

// Fit estimates every free parameter from an n × p data matrix
func (e *Estimator) Fit(data *mat.Dense) (*Fit, error) {
	n, p := data.Dims()
	if p != e.columns {
		return nil, fmt.Errorf("data has %d columns, model has %d variables", p, e.columns)
	}

	fit := &Fit{
		N:         n,
		Labels:    e.labels,
		Estimates: make([]float64, len(e.labels)),
		Cov:       mat.NewSymDense(len(e.labels), nil),
		Residual:  make(map[model.VariableName]float64, len(e.equations)),
	}

	for _, eq := range e.equations {
		if err := e.fitEquation(data, eq, fit); err != nil {
			return nil, err
		}
	}
	return fit, nil
}

func (e *Estimator) fitEquation(data *mat.Dense, eq regressionEquation, fit *Fit) error {
	n, _ := data.Dims()
	k := 1 + len(eq.free)
	if n <= k {
		return core.NewConvergenceError(string(eq.name), fmt.Sprintf("%d observations for %d coefficients", n, k))
	}

	x := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	for r := 0; r < n; r++ {
		x.Set(r, 0, 1)
		for j, c := range eq.free {
			x.Set(r, j+1, data.At(r, c))
		}
		v := data.At(r, eq.outcome)
		for j, c := range eq.fixed {
			v -= eq.fixedVal[j] * data.At(r, c)
		}
		y.SetVec(r, v)
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok || chol.Cond() > maxCondition {
		return core.NewConvergenceError(string(eq.name), "design matrix is singular")
	}

	var xty, beta mat.VecDense
	xty.MulVec(x.T(), y)
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return core.NewConvergenceError(string(eq.name), err.Error())
	}

	var fitted, resid mat.VecDense
	fitted.MulVec(x, &beta)
	resid.SubVec(y, &fitted)
	sigma2 := mat.Dot(&resid, &resid) / float64(n-k)
	if !(sigma2 > 0) || math.IsInf(sigma2, 0) {
		return core.NewConvergenceError(string(eq.name), "residual variance is not positive")
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return core.NewConvergenceError(string(eq.name), err.Error())
	}

	for a, la := range eq.labels {
		fit.Estimates[la] = beta.AtVec(a + 1)
		for b := a; b < len(eq.labels); b++ {
			fit.Cov.SetSym(la, eq.labels[b], sigma2*inv.At(a+1, b+1))
		}
	}
	fit.Residual[eq.name] = sigma2
	return nil
}
