package model

import (
	"fmt"
	"sort"
)

// VariableName identifies an observed variable in the path model
type VariableName string

// VariableKind classifies how a variable enters the model
type VariableKind string

const (
	// KindExogenous variables are drawn from the exogenous normal distribution.
	KindExogenous VariableKind = "exogenous"
	// KindProduct variables are the product of two exogenous variables (interaction terms).
	KindProduct VariableKind = "product"
	// KindEndogenous variables are regressed on their predictors.
	KindEndogenous VariableKind = "endogenous"
)

// Variable declares an observed variable
type Variable struct {
	Name    VariableName   `yaml:"name" json:"name"`
	Kind    VariableKind   `yaml:"kind" json:"kind"`
	Factors []VariableName `yaml:"factors,omitempty" json:"factors,omitempty"`
}

// PathKey addresses a single regression path (outcome <- predictor)
type PathKey struct {
	Outcome   VariableName
	Predictor VariableName
}

func (k PathKey) String() string {
	return fmt.Sprintf("%s~%s", k.Outcome, k.Predictor)
}

// PathValue is either a free parameter label or a fixed coefficient
type PathValue struct {
	Label string
	Fixed float64
}

// IsFree reports whether the path is estimated
func (v PathValue) IsFree() bool {
	return v.Label != ""
}

func (v PathValue) String() string {
	if v.IsFree() {
		return v.Label
	}
	return fmt.Sprintf("%g", v.Fixed)
}

// Path is one row of the model file: the coefficient specification and its
// true population value.
type Path struct {
	Outcome    VariableName `yaml:"outcome" json:"outcome"`
	Predictor  VariableName `yaml:"predictor" json:"predictor"`
	Label      string       `yaml:"label,omitempty" json:"label,omitempty"`
	Fixed      *float64     `yaml:"fixed,omitempty" json:"fixed,omitempty"`
	Population float64      `yaml:"population" json:"population"`
}

// Key returns the (outcome, predictor) address of the path
func (p Path) Key() PathKey {
	return PathKey{Outcome: p.Outcome, Predictor: p.Predictor}
}

// Value returns the path coefficient specification
func (p Path) Value() PathValue {
	if p.Fixed != nil {
		return PathValue{Fixed: *p.Fixed}
	}
	return PathValue{Label: p.Label}
}

// TrueValue is the value used when simulating data. Fixed paths simulate at
// their fixed value.
func (p Path) TrueValue() float64 {
	if p.Fixed != nil {
		return *p.Fixed
	}
	return p.Population
}

// Covariance between two exogenous variables
type Covariance struct {
	A     VariableName `yaml:"a" json:"a"`
	B     VariableName `yaml:"b" json:"b"`
	Value float64      `yaml:"value" json:"value"`
}

// ExogenousMoments describes the zero-mean normal distribution of the
// exogenous variables. Missing variances default to 1.
type ExogenousMoments struct {
	Variances   map[VariableName]float64 `yaml:"variances,omitempty" json:"variances,omitempty"`
	Covariances []Covariance             `yaml:"covariances,omitempty" json:"covariances,omitempty"`
}

// Variance returns the variance of an exogenous variable
func (m ExogenousMoments) Variance(name VariableName) float64 {
	if v, ok := m.Variances[name]; ok {
		return v
	}
	return 1
}

// Covariance returns the covariance between two exogenous variables
func (m ExogenousMoments) Covariance(a, b VariableName) float64 {
	if a == b {
		return m.Variance(a)
	}
	for _, c := range m.Covariances {
		if (c.A == a && c.B == b) || (c.A == b && c.B == a) {
			return c.Value
		}
	}
	return 0
}

// DerivedEffect is a named function of free parameter labels, such as a
// conditional indirect effect "(a1 + a3*1)*b1".
type DerivedEffect struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expr" json:"expr"`
}

// Spec is the complete description of a path model to simulate
type Spec struct {
	Name      string                   `yaml:"name" json:"name"`
	Variables []Variable               `yaml:"variables" json:"variables"`
	Exogenous ExogenousMoments         `yaml:"exogenous" json:"exogenous"`
	Paths     []Path                   `yaml:"paths" json:"paths"`
	Residuals map[VariableName]float64 `yaml:"residuals,omitempty" json:"residuals,omitempty"`
	Effects   []DerivedEffect          `yaml:"effects,omitempty" json:"effects,omitempty"`
}

// Variable looks up a declared variable
func (s *Spec) Variable(name VariableName) (Variable, bool) {
	for _, v := range s.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// VariablesOfKind returns declared variables of one kind in declaration order
func (s *Spec) VariablesOfKind(kind VariableKind) []Variable {
	var out []Variable
	for _, v := range s.Variables {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

// PathMatrix maps each (outcome, predictor) pair to its coefficient specification
func (s *Spec) PathMatrix() map[PathKey]PathValue {
	m := make(map[PathKey]PathValue, len(s.Paths))
	for _, p := range s.Paths {
		m[p.Key()] = p.Value()
	}
	return m
}

// PopulationMatrix maps each (outcome, predictor) pair to its true value
func (s *Spec) PopulationMatrix() map[PathKey]float64 {
	m := make(map[PathKey]float64, len(s.Paths))
	for _, p := range s.Paths {
		m[p.Key()] = p.TrueValue()
	}
	return m
}

// PathsTo returns the paths whose outcome is the given variable, in file order
func (s *Spec) PathsTo(outcome VariableName) []Path {
	var out []Path
	for _, p := range s.Paths {
		if p.Outcome == outcome {
			out = append(out, p)
		}
	}
	return out
}

// FreeLabels returns the sorted set of free parameter labels
func (s *Spec) FreeLabels() []string {
	labels := make([]string, 0, len(s.Paths))
	for _, p := range s.Paths {
		if p.Fixed == nil && p.Label != "" {
			labels = append(labels, p.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// PopulationValues maps each free label to its true value
func (s *Spec) PopulationValues() map[string]float64 {
	values := make(map[string]float64, len(s.Paths))
	for _, p := range s.Paths {
		if p.Fixed == nil && p.Label != "" {
			values[p.Label] = p.Population
		}
	}
	return values
}

// EffectNames returns derived effect names in declaration order
func (s *Spec) EffectNames() []string {
	names := make([]string, len(s.Effects))
	for i, e := range s.Effects {
		names[i] = e.Name
	}
	return names
}

// Fingerprint returns the canonical fields of the spec used for run hashing
func (s *Spec) Fingerprint() map[string]interface{} {
	fields := map[string]interface{}{"name": s.Name}
	for _, v := range s.Variables {
		fields["var:"+string(v.Name)] = fmt.Sprintf("%s%v", v.Kind, v.Factors)
	}
	for _, p := range s.Paths {
		fields["path:"+p.Key().String()] = fmt.Sprintf("%s@%g", p.Value(), p.TrueValue())
	}
	for name, v := range s.Exogenous.Variances {
		fields["var2:"+string(name)] = v
	}
	for _, c := range s.Exogenous.Covariances {
		fields["cov:"+string(c.A)+","+string(c.B)] = c.Value
	}
	for name, v := range s.Residuals {
		fields["resid:"+string(name)] = v
	}
	for _, e := range s.Effects {
		fields["effect:"+e.Name] = e.Expression
	}
	return fields
}
