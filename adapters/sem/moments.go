// Package sem simulates and estimates recursive observed-variable path models
// with interaction (product) terms.
package sem

import (
	"fmt"

	"gopower/domain/core"
	"gopower/domain/model"

	"gonum.org/v1/gonum/mat"
)

// Moments is the population covariance structure implied by a spec
type Moments struct {
	Names     []model.VariableName
	Cov       *mat.SymDense
	Residuals map[model.VariableName]float64
	RSquared  map[model.VariableName]float64

	index map[model.VariableName]int
}

// Index returns the column of a variable
func (m *Moments) Index(name model.VariableName) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Variance returns the implied variance of a variable
func (m *Moments) Variance(name model.VariableName) float64 {
	i := m.index[name]
	return m.Cov.At(i, i)
}

// Covariance returns the implied covariance between two variables
func (m *Moments) Covariance(a, b model.VariableName) float64 {
	return m.Cov.At(m.index[a], m.index[b])
}

// ImpliedMoments computes the covariance matrix of every observed variable.
// Exogenous variables are zero-mean normal; products of two of them follow
// Isserlis' theorem; endogenous variables are built in topological order.
// Residual variances not given explicitly are chosen so the endogenous
// variable has unit variance.
func ImpliedMoments(spec *model.Spec) (*Moments, error) {
	order, err := spec.EndogenousOrder()
	if err != nil {
		return nil, err
	}

	p := len(spec.Variables)
	m := &Moments{
		Names:     make([]model.VariableName, p),
		Cov:       mat.NewSymDense(p, nil),
		Residuals: make(map[model.VariableName]float64),
		RSquared:  make(map[model.VariableName]float64),
		index:     make(map[model.VariableName]int, p),
	}
	for i, v := range spec.Variables {
		m.Names[i] = v.Name
		m.index[v.Name] = i
	}

	exo := spec.VariablesOfKind(model.KindExogenous)
	for _, a := range exo {
		for _, b := range exo {
			m.Cov.SetSym(m.index[a.Name], m.index[b.Name], spec.Exogenous.Covariance(a.Name, b.Name))
		}
	}
	if err := checkPositiveDefinite(m, exo); err != nil {
		return nil, err
	}

	// Third moments of a zero-mean normal vanish, so products are uncorrelated
	// with the exogenous variables themselves.
	sigma := spec.Exogenous.Covariance
	products := spec.VariablesOfKind(model.KindProduct)
	for _, pv := range products {
		a, b := pv.Factors[0], pv.Factors[1]
		for _, qv := range products {
			c, d := qv.Factors[0], qv.Factors[1]
			m.Cov.SetSym(m.index[pv.Name], m.index[qv.Name], sigma(a, c)*sigma(b, d)+sigma(a, d)*sigma(b, c))
		}
	}

	defined := make([]int, 0, p)
	for _, v := range exo {
		defined = append(defined, m.index[v.Name])
	}
	for _, v := range products {
		defined = append(defined, m.index[v.Name])
	}

	for _, y := range order {
		paths := spec.PathsTo(y)
		preds := make([]int, len(paths))
		beta := mat.NewVecDense(len(paths), nil)
		for k, path := range paths {
			preds[k] = m.index[path.Predictor]
			beta.SetVec(k, path.TrueValue())
		}

		s := mat.NewSymDense(len(preds), nil)
		for k := range preds {
			for l := k; l < len(preds); l++ {
				s.SetSym(k, l, m.Cov.At(preds[k], preds[l]))
			}
		}
		explained := mat.Inner(beta, s, beta)

		resid, explicit := spec.Residuals[y]
		if !explicit {
			resid = 1 - explained
		}
		if resid <= 0 {
			return nil, fmt.Errorf("%w: %s explains %.3f of a unit variance, leaving no residual variance",
				core.ErrInvalidPopulation, y, explained)
		}

		yi := m.index[y]
		for _, v := range defined {
			c := 0.0
			for k, pi := range preds {
				c += beta.AtVec(k) * m.Cov.At(pi, v)
			}
			m.Cov.SetSym(yi, v, c)
		}
		m.Cov.SetSym(yi, yi, explained+resid)
		m.Residuals[y] = resid
		m.RSquared[y] = explained / (explained + resid)
		defined = append(defined, yi)
	}

	return m, nil
}

// ResolveResiduals returns the residual variance of every endogenous
// variable: the explicit value from the spec, or whatever leaves the variable
// with unit variance.
func ResolveResiduals(spec *model.Spec) (map[model.VariableName]float64, error) {
	m, err := ImpliedMoments(spec)
	if err != nil {
		return nil, err
	}
	return m.Residuals, nil
}

func checkPositiveDefinite(m *Moments, exo []model.Variable) error {
	block := mat.NewSymDense(len(exo), nil)
	for i, a := range exo {
		for j := i; j < len(exo); j++ {
			block.SetSym(i, j, m.Cov.At(m.index[a.Name], m.index[exo[j].Name]))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(block); !ok {
		return fmt.Errorf("%w: exogenous covariance matrix is not positive definite", core.ErrInvalidPopulation)
	}
	return nil
}
