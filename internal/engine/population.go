package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/solution"
	"github.com/fyrsmithlabs/healerd/internal/store"
)

// PruneIfNeeded trims the population back to the configured cap,
// removing the lowest-fitness solutions first.
func (e *Engine) PruneIfNeeded(ctx context.Context) {
	removed := e.store.PruneToCap(e.config.PopulationCap)
	if len(removed) == 0 {
		return
	}

	if e.pruneCounter != nil {
		e.pruneCounter.Add(ctx, int64(len(removed)))
	}
	ids := make([]string, 0, len(removed))
	for _, sol := range removed {
		ids = append(ids, sol.ID)
	}
	e.logger.Info("population pruned",
		zap.Int("removed", len(removed)),
		zap.Int("cap", e.config.PopulationCap),
		zap.Strings("solution_ids", ids),
	)
}

// RunEvolutionCycle performs one generation of background evolution:
// high-performing parents are crossed over, every solution is a
// mutation candidate, and the population is pruned and persisted.
// Cycles are single-flight; an overlapping call returns immediately.
func (e *Engine) RunEvolutionCycle(ctx context.Context) {
	if !e.cycleMu.TryLock() {
		e.logger.Debug("evolution cycle already running, skipping")
		return
	}
	defer e.cycleMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "engine.evolution_cycle")
	defer span.End()

	population := e.store.All()

	// Crossover among parents above the selection pressure floor,
	// strongest paired with strongest.
	var parents []*solution.Solution
	for _, sol := range population {
		if sol.SuccessRate > e.config.SelectionPressure {
			parents = append(parents, sol)
		}
	}
	sort.Slice(parents, func(i, j int) bool {
		return parents[i].Fitness() > parents[j].Fitness()
	})

	var born, mutated int
	for i := 0; i+1 < len(parents); i += 2 {
		if !e.chance(e.config.CrossoverRate) {
			continue
		}
		offspring := e.evolver.Crossover(parents[i], parents[i+1])
		if offspring == nil {
			continue
		}
		e.adopt(ctx, offspring)
		born++
	}

	// Mutation sweep over the whole population.
	for _, sol := range population {
		if !e.chance(e.config.MutationRate) {
			continue
		}
		evolved := e.evolver.Evolve(ctx, sol, store.ReconstructSignature(sol))
		if evolved == nil {
			continue
		}
		e.adopt(ctx, evolved)
		mutated++
	}

	e.PruneIfNeeded(ctx)
	e.store.Persist(ctx)

	e.logger.Info("evolution cycle complete",
		zap.Int("population", len(population)),
		zap.Int("parents", len(parents)),
		zap.Int("offspring", born),
		zap.Int("mutants", mutated),
	)
}
