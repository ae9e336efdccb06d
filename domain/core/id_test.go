package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

// TestIDIsEmpty tests ID emptiness check
func TestIDIsEmpty(t *testing.T) {
	if !ID("").IsEmpty() {
		t.Error("Expected empty ID to be empty")
	}
	if ID("not-empty").IsEmpty() {
		t.Error("Expected non-empty ID to not be empty")
	}
}

// TestParseRunID tests run ID parsing
func TestParseRunID(t *testing.T) {
	valid := NewRunID()

	tests := []struct {
		input    string
		expected RunID
		hasError bool
	}{
		{valid.String(), valid, false},
		{"  " + valid.String() + " ", valid, false},
		{"run-123", "", true},
		{"", "", true},
	}

	for _, test := range tests {
		result, err := ParseRunID(test.input)
		if test.hasError && err == nil {
			t.Errorf("Expected error for input '%s', but got none", test.input)
		}
		if !test.hasError && err != nil {
			t.Errorf("Unexpected error for input '%s': %v", test.input, err)
		}
		if result != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, result)
		}
	}
}

func TestComputeFingerprintIgnoresMapOrder(t *testing.T) {
	a := ComputeFingerprint(map[string]interface{}{"n": 100, "seed": int64(7), "model": "mm"})
	b := ComputeFingerprint(map[string]interface{}{"model": "mm", "seed": int64(7), "n": 100})
	if !a.Equals(b) {
		t.Errorf("Expected identical fingerprints, got %s and %s", a, b)
	}
	c := ComputeFingerprint(map[string]interface{}{"model": "mm", "seed": int64(8), "n": 100})
	if a.Equals(c) {
		t.Error("Expected different fingerprints for different seeds")
	}
	if len(a.Short()) != 12 {
		t.Errorf("Expected 12-character short hash, got %q", a.Short())
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsSpecificationError(NewModelError("paths", "empty")) {
		t.Error("model error should be a specification error")
	}
	if !errors.Is(ErrCyclicModel, ErrInvalidModel) {
		t.Error("cyclic model should wrap ErrInvalidModel")
	}
	if !IsConvergenceError(NewConvergenceError("M", "singular")) {
		t.Error("convergence error not recognised")
	}
	if IsConvergenceError(ErrTargetNotReached) {
		t.Error("target-not-reached is not a convergence error")
	}
	if !IsNotFoundError(NewNotFoundError("run", "x")) {
		t.Error("not found error not recognised")
	}
}
