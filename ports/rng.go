package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic source for a named operation
	SeededStream(name string, seed int64) rand.Source

	// Stream creates the source for one replication at one sample size.
	// The same (baseSeed, n, replication) always yields the same sequence,
	// whatever the worker that runs it.
	Stream(baseSeed int64, n, replication int) rand.Source
}
