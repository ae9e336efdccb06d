package app

import (
	"context"
	"fmt"

	"gopower/domain/power"
	"gopower/internal"
	"gopower/ports"

	"golang.org/x/sync/errgroup"
)

// Batch is a set of replications at one sample size
type Batch struct {
	N            int
	Replications int
	Seed         int64
	Workers      int
}

// ReplicationRunner fans replications out over a bounded worker pool. Each
// replication draws from its own stream keyed by (seed, n, index), so the
// outcomes do not depend on the number of workers or on scheduling.
type ReplicationRunner struct {
	sim    ports.ReplicationSimulator
	rng    ports.RNGPort
	logger *internal.Logger
}

// NewReplicationRunner creates a runner for a simulator
func NewReplicationRunner(sim ports.ReplicationSimulator, rng ports.RNGPort) *ReplicationRunner {
	return &ReplicationRunner{
		sim:    sim,
		rng:    rng,
		logger: internal.DefaultLogger.With("replications"),
	}
}

// Targets forwards the simulator's reported parameters and effects
func (r *ReplicationRunner) Targets() []power.SummaryTarget {
	return r.sim.Targets()
}

// Run executes every replication of the batch. Outcomes are returned in
// replication order. The first simulator error cancels the remaining work.
func (r *ReplicationRunner) Run(ctx context.Context, b Batch) ([]power.ReplicationOutcome, error) {
	if b.Replications < 1 {
		return nil, fmt.Errorf("batch at n=%d has no replications", b.N)
	}
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]power.ReplicationOutcome, b.Replications)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < b.Replications; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := r.sim.Replicate(gctx, b.N, r.rng.Stream(b.Seed, b.N, i))
			if err != nil {
				return fmt.Errorf("replication %d at n=%d: %w", i, b.N, err)
			}
			out.Index = i
			out.N = b.N
			if !out.Converged {
				r.logger.Trace("replication %d at n=%d did not converge: %s", i, b.N, out.Failure)
			}
			outcomes[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
