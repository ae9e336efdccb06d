package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopower/domain/model"
	"gopower/internal/errors"

	"gopkg.in/yaml.v3"
)

//go:embed default_model.yaml
var defaultModelYAML []byte

// DefaultModelYAML returns the built-in moderated mediation model file
func DefaultModelYAML() []byte {
	return bytes.Clone(defaultModelYAML)
}

// DefaultModel parses the built-in moderated mediation model
func DefaultModel() (*model.Spec, error) {
	return ParseModel(defaultModelYAML)
}

// LoadModel reads and validates a model file. An empty path selects the
// built-in model.
func LoadModel(path string) (*model.Spec, error) {
	if path == "" {
		return DefaultModel()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading model file %s", path)
	}
	spec, err := ParseModel(data)
	if err != nil {
		return nil, errors.Wrapf(err, "model file %s", path)
	}
	return spec, nil
}

// ParseModel decodes and validates a YAML model description
func ParseModel(data []byte) (*model.Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec model.Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.WithCode(errors.CodeValidationError, fmt.Errorf("parsing model: %w", err))
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeValidationError, err)
	}
	return &spec, nil
}
