package sem

import (
	"fmt"

	"gopower/domain/core"
	"gopower/domain/model"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CompiledEffect is a derived effect ready for repeated evaluation. The
// compiled program is immutable and safe to share across goroutines.
type CompiledEffect struct {
	name       string
	expression string
	program    *vm.Program
}

// Name returns the effect name
func (e *CompiledEffect) Name() string { return e.name }

// Expression returns the source expression
func (e *CompiledEffect) Expression() string { return e.expression }

// Eval evaluates the effect for a label -> value environment
func (e *CompiledEffect) Eval(env map[string]any) (float64, error) {
	out, err := expr.Run(e.program, env)
	if err != nil {
		return 0, fmt.Errorf("effect %s: %w", e.name, err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("effect %s evaluated to %T, not a number", e.name, out)
	}
	return v, nil
}

// EvalValues evaluates the effect for a label -> value map
func (e *CompiledEffect) EvalValues(values map[string]float64) (float64, error) {
	env := make(map[string]any, len(values))
	for k, v := range values {
		env[k] = v
	}
	return e.Eval(env)
}

// CompileEffects compiles every derived effect of the spec against its free
// labels. References to unknown labels fail here rather than mid-simulation.
func CompileEffects(spec *model.Spec) ([]*CompiledEffect, error) {
	env := make(map[string]any)
	for _, l := range spec.FreeLabels() {
		env[l] = 0.0
	}

	out := make([]*CompiledEffect, 0, len(spec.Effects))
	for _, e := range spec.Effects {
		program, err := expr.Compile(e.Expression, expr.Env(env), expr.AsFloat64())
		if err != nil {
			return nil, fmt.Errorf("%w: %s := %s: %v", core.ErrInvalidEffect, e.Name, e.Expression, err)
		}
		out = append(out, &CompiledEffect{name: e.Name, expression: e.Expression, program: program})
	}
	return out, nil
}
