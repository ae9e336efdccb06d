package model

import (
	"fmt"
	"strings"

	"gopower/domain/core"
)

// Validate checks that the spec describes a recursive observed-variable path
// model that can be simulated and estimated.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return core.NewModelError("name", "model name is required")
	}
	if len(s.Variables) == 0 {
		return core.NewModelError("variables", "at least one variable is required")
	}

	seen := make(map[VariableName]bool, len(s.Variables))
	for _, v := range s.Variables {
		if v.Name == "" {
			return core.NewModelError("variables", "variable name cannot be empty")
		}
		if seen[v.Name] {
			return core.NewModelError("variables", fmt.Sprintf("duplicate variable %s", v.Name))
		}
		seen[v.Name] = true

		switch v.Kind {
		case KindExogenous, KindEndogenous:
			if len(v.Factors) > 0 {
				return core.NewModelError(string(v.Name), "only product variables take factors")
			}
		case KindProduct:
		default:
			return core.NewModelError(string(v.Name), fmt.Sprintf("unknown kind %q", v.Kind))
		}
	}

	// Factors may be declared after the product, so check them once all names are known.
	for _, v := range s.VariablesOfKind(KindProduct) {
		if len(v.Factors) != 2 {
			return core.NewModelError(string(v.Name), "product variables need exactly two factors")
		}
		for _, f := range v.Factors {
			fv, ok := s.Variable(f)
			if !ok || fv.Kind != KindExogenous {
				return core.NewModelError(string(v.Name), fmt.Sprintf("factor %s must be an exogenous variable", f))
			}
		}
	}

	if len(s.VariablesOfKind(KindExogenous)) == 0 {
		return core.NewModelError("variables", "at least one exogenous variable is required")
	}
	if len(s.VariablesOfKind(KindEndogenous)) == 0 {
		return core.NewModelError("variables", "at least one endogenous variable is required")
	}

	if err := s.validateExogenous(); err != nil {
		return err
	}
	if err := s.validatePaths(); err != nil {
		return err
	}
	if _, err := s.EndogenousOrder(); err != nil {
		return err
	}
	return s.validateEffects()
}

func (s *Spec) validateExogenous() error {
	for name, v := range s.Exogenous.Variances {
		ev, ok := s.Variable(name)
		if !ok || ev.Kind != KindExogenous {
			return fmt.Errorf("%w: variance given for non-exogenous variable %s", core.ErrInvalidPopulation, name)
		}
		if v <= 0 {
			return fmt.Errorf("%w: variance of %s must be positive", core.ErrInvalidPopulation, name)
		}
	}
	for _, c := range s.Exogenous.Covariances {
		for _, name := range []VariableName{c.A, c.B} {
			ev, ok := s.Variable(name)
			if !ok || ev.Kind != KindExogenous {
				return fmt.Errorf("%w: covariance references non-exogenous variable %s", core.ErrInvalidPopulation, name)
			}
		}
		if c.A == c.B {
			return fmt.Errorf("%w: covariance of %s with itself; use variances", core.ErrInvalidPopulation, c.A)
		}
	}
	for name, v := range s.Residuals {
		rv, ok := s.Variable(name)
		if !ok || rv.Kind != KindEndogenous {
			return fmt.Errorf("%w: residual variance given for non-endogenous variable %s", core.ErrInvalidPopulation, name)
		}
		if v <= 0 {
			return fmt.Errorf("%w: residual variance of %s must be positive", core.ErrInvalidPopulation, name)
		}
	}
	return nil
}

func (s *Spec) validatePaths() error {
	if len(s.Paths) == 0 {
		return core.NewModelError("paths", "at least one path is required")
	}

	keys := make(map[PathKey]bool, len(s.Paths))
	labels := make(map[string]PathKey, len(s.Paths))
	for _, p := range s.Paths {
		out, ok := s.Variable(p.Outcome)
		if !ok {
			return core.NewModelError(p.Key().String(), fmt.Sprintf("undeclared outcome %s", p.Outcome))
		}
		if out.Kind != KindEndogenous {
			return core.NewModelError(p.Key().String(), fmt.Sprintf("outcome %s is not endogenous", p.Outcome))
		}
		if _, ok := s.Variable(p.Predictor); !ok {
			return core.NewModelError(p.Key().String(), fmt.Sprintf("undeclared predictor %s", p.Predictor))
		}
		if p.Outcome == p.Predictor {
			return core.NewModelError(p.Key().String(), "a variable cannot predict itself")
		}
		if keys[p.Key()] {
			return core.NewModelError(p.Key().String(), "duplicate path")
		}
		keys[p.Key()] = true

		switch {
		case p.Fixed != nil && p.Label != "":
			return core.NewModelError(p.Key().String(), "a path is either fixed or labelled, not both")
		case p.Fixed == nil && p.Label == "":
			return core.NewModelError(p.Key().String(), "free paths need a label")
		case p.Label != "":
			if !isIdentifier(p.Label) {
				return core.NewModelError(p.Key().String(), fmt.Sprintf("label %q is not an identifier", p.Label))
			}
			if prev, dup := labels[p.Label]; dup {
				return core.NewModelError(p.Key().String(), fmt.Sprintf("label %s already used by %s; equality constraints are not supported", p.Label, prev))
			}
			labels[p.Label] = p.Key()
		}
	}

	for _, v := range s.VariablesOfKind(KindEndogenous) {
		if len(s.PathsTo(v.Name)) == 0 {
			return core.NewModelError(string(v.Name), "endogenous variable has no predictors")
		}
	}
	return nil
}

func (s *Spec) validateEffects() error {
	names := make(map[string]bool, len(s.Effects))
	labels := s.PopulationValues()
	for _, e := range s.Effects {
		if !isIdentifier(e.Name) {
			return fmt.Errorf("%w: effect name %q is not an identifier", core.ErrInvalidEffect, e.Name)
		}
		if names[e.Name] {
			return fmt.Errorf("%w: duplicate effect %s", core.ErrInvalidEffect, e.Name)
		}
		if _, clash := labels[e.Name]; clash {
			return fmt.Errorf("%w: effect %s shadows a parameter label", core.ErrInvalidEffect, e.Name)
		}
		if strings.TrimSpace(e.Expression) == "" {
			return fmt.Errorf("%w: effect %s has an empty expression", core.ErrInvalidEffect, e.Name)
		}
		names[e.Name] = true
	}
	return nil
}

// EndogenousOrder returns the endogenous variables in an order where every
// variable comes after all of its endogenous predictors. Ties keep
// declaration order.
func (s *Spec) EndogenousOrder() ([]VariableName, error) {
	endo := s.VariablesOfKind(KindEndogenous)
	isEndo := make(map[VariableName]bool, len(endo))
	for _, v := range endo {
		isEndo[v.Name] = true
	}

	indegree := make(map[VariableName]int, len(endo))
	dependents := make(map[VariableName][]VariableName)
	for _, p := range s.Paths {
		if isEndo[p.Outcome] && isEndo[p.Predictor] {
			indegree[p.Outcome]++
			dependents[p.Predictor] = append(dependents[p.Predictor], p.Outcome)
		}
	}

	order := make([]VariableName, 0, len(endo))
	done := make(map[VariableName]bool, len(endo))
	for len(order) < len(endo) {
		progressed := false
		for _, v := range endo {
			if done[v.Name] || indegree[v.Name] > 0 {
				continue
			}
			done[v.Name] = true
			order = append(order, v.Name)
			for _, d := range dependents[v.Name] {
				indegree[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, core.ErrCyclicModel
		}
	}
	return order, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
