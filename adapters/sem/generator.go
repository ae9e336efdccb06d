package sem

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gopower/domain/core"
	"gopower/domain/model"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

type structuralEquation struct {
	outcome int
	preds   []int
	coefs   []float64
	sd      float64
}

// Generator draws data sets from the population model
type Generator struct {
	moments   *Moments
	exo       []int
	exoCov    *mat.SymDense
	products  [][3]int
	equations []structuralEquation
}

// NewGenerator prepares a generator for a validated spec
func NewGenerator(spec *model.Spec) (*Generator, error) {
	moments, err := ImpliedMoments(spec)
	if err != nil {
		return nil, err
	}

	g := &Generator{moments: moments}

	exo := spec.VariablesOfKind(model.KindExogenous)
	g.exoCov = mat.NewSymDense(len(exo), nil)
	for i, v := range exo {
		g.exo = append(g.exo, moments.index[v.Name])
		for j := i; j < len(exo); j++ {
			g.exoCov.SetSym(i, j, spec.Exogenous.Covariance(v.Name, exo[j].Name))
		}
	}

	for _, v := range spec.VariablesOfKind(model.KindProduct) {
		g.products = append(g.products, [3]int{
			moments.index[v.Name],
			moments.index[v.Factors[0]],
			moments.index[v.Factors[1]],
		})
	}

	order, err := spec.EndogenousOrder()
	if err != nil {
		return nil, err
	}
	for _, y := range order {
		eq := structuralEquation{
			outcome: moments.index[y],
			sd:      math.Sqrt(moments.Residuals[y]),
		}
		for _, path := range spec.PathsTo(y) {
			eq.preds = append(eq.preds, moments.index[path.Predictor])
			eq.coefs = append(eq.coefs, path.TrueValue())
		}
		g.equations = append(g.equations, eq)
	}

	return g, nil
}

// Moments returns the population moments the generator samples from
func (g *Generator) Moments() *Moments {
	return g.moments
}

// Generate draws an n × p data matrix whose columns follow the spec's
// variable order.
func (g *Generator) Generate(n int, src rand.Source) (*mat.Dense, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: sample size %d", core.ErrInvalidPlan, n)
	}

	exoDist, ok := distmv.NewNormal(make([]float64, len(g.exo)), g.exoCov, src)
	if !ok {
		return nil, fmt.Errorf("%w: exogenous covariance matrix is not positive definite", core.ErrInvalidPopulation)
	}

	noise := make([]distuv.Normal, len(g.equations))
	for i, eq := range g.equations {
		noise[i] = distuv.Normal{Mu: 0, Sigma: eq.sd, Src: src}
	}

	data := mat.NewDense(n, len(g.moments.Names), nil)
	x := make([]float64, len(g.exo))
	for r := 0; r < n; r++ {
		exoDist.Rand(x)
		for i, col := range g.exo {
			data.Set(r, col, x[i])
		}
		for _, pr := range g.products {
			data.Set(r, pr[0], data.At(r, pr[1])*data.At(r, pr[2]))
		}
		for i, eq := range g.equations {
			v := noise[i].Rand()
			for k, col := range eq.preds {
				v += eq.coefs[k] * data.At(r, col)
			}
			data.Set(r, eq.outcome, v)
		}
	}
	return data, nil
}
