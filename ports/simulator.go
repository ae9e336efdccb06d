package ports

import (
	"context"
	"math/rand/v2"

	"gopower/domain/power"
)

// ReplicationSimulator simulates one data set of size n from the population
// model, fits it and returns per-parameter decisions.
type ReplicationSimulator interface {
	Replicate(ctx context.Context, n int, src rand.Source) (power.ReplicationOutcome, error)

	// Targets lists every parameter and effect the simulator reports, with
	// population values, in report order.
	Targets() []power.SummaryTarget
}
