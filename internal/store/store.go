// Package store holds the engine's learned population of solutions.
//
// The in-memory population is the source of truth on the decision path.
// Persistence backends (embedded chromem-go, optional Qdrant mirror) are
// written asynchronously and tolerate being unavailable; the store then
// operates memory-only. A crash between an in-memory update and a flush
// loses that update.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

var (
	// ErrNotFound indicates no solution exists for the given ID.
	ErrNotFound = errors.New("solution not found")

	// ErrDuplicateID indicates a solution with the same ID already exists.
	ErrDuplicateID = errors.New("solution ID already exists")
)

// entry pairs a solution with its own lock so concurrent outcome updates
// for the same ID serialize without blocking the rest of the population.
type entry struct {
	mu  sync.Mutex
	sol *solution.Solution
}

// Store is the bounded, persistent population of solutions.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	backends []Backend
	logger   *zap.Logger
}

// New creates an empty store backed by the given persistence backends.
// Backends may be empty for memory-only operation.
func New(backends []Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries:  make(map[string]*entry),
		backends: backends,
		logger:   logger,
	}
}

// Load populates the store from the first backend that returns data.
// Backend failures are logged; an empty store is not an error.
func (s *Store) Load(ctx context.Context) error {
	for _, b := range s.backends {
		sols, err := b.Load(ctx)
		if err != nil {
			s.logger.Warn("backend load failed, continuing",
				zap.String("backend", b.Name()),
				zap.Error(err),
			)
			continue
		}
		if len(sols) == 0 {
			continue
		}
		s.mu.Lock()
		for _, sol := range sols {
			s.entries[sol.ID] = &entry{sol: sol.Clone()}
		}
		s.mu.Unlock()
		s.logger.Info("population loaded",
			zap.String("backend", b.Name()),
			zap.Int("count", len(sols)),
		)
		return nil
	}
	return nil
}

// Add inserts a new solution.
func (s *Store) Add(sol *solution.Solution) error {
	if sol == nil || sol.ID == "" {
		return errors.New("solution with non-empty ID required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sol.ID]; ok {
		return ErrDuplicateID
	}
	s.entries[sol.ID] = &entry{sol: sol.Clone()}
	return nil
}

// Get returns a copy of the solution with the given ID.
func (s *Store) Get(id string) (*solution.Solution, error) {
	s.mu.RLock()
	ent, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.sol.Clone(), nil
}

// ExactLookup returns the highest-fitness solution whose error signature
// equals the canonical key, or nil when none exists.
func (s *Store) ExactLookup(key string) *solution.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *solution.Solution
	for _, ent := range s.entries {
		ent.mu.Lock()
		if ent.sol.ErrorSignature == key {
			if best == nil || ent.sol.Fitness() > best.Fitness() {
				best = ent.sol.Clone()
			}
		}
		ent.mu.Unlock()
	}
	return best
}

// All returns a consistent snapshot of the population.
func (s *Store) All() []*solution.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*solution.Solution, 0, len(s.entries))
	for _, ent := range s.entries {
		ent.mu.Lock()
		out = append(out, ent.sol.Clone())
		ent.mu.Unlock()
	}
	return out
}

// Len returns the population size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Update applies fn to the stored solution under its entry lock, so two
// racing updates for the same ID each see the other's result. Returns a
// copy of the updated solution.
func (s *Store) Update(id string, fn func(*solution.Solution)) (*solution.Solution, error) {
	s.mu.RLock()
	ent, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	fn(ent.sol)
	return ent.sol.Clone(), nil
}

// PruneToCap removes lowest-fitness solutions until the population size
// is at most cap. Returns the removed solutions.
func (s *Store) PruneToCap(cap int) []*solution.Solution {
	if cap < 0 {
		cap = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.entries) - cap
	if excess <= 0 {
		return nil
	}

	type scored struct {
		id      string
		fitness float64
	}
	ranked := make([]scored, 0, len(s.entries))
	for id, ent := range s.entries {
		ent.mu.Lock()
		ranked = append(ranked, scored{id: id, fitness: ent.sol.Fitness()})
		ent.mu.Unlock()
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].fitness < ranked[j].fitness })

	removed := make([]*solution.Solution, 0, excess)
	for _, r := range ranked[:excess] {
		removed = append(removed, s.entries[r.id].sol)
		delete(s.entries, r.id)
	}
	return removed
}

// Persist writes the full population to every backend. Failures are
// logged and never propagate to the decision path.
func (s *Store) Persist(ctx context.Context) {
	if len(s.backends) == 0 {
		return
	}
	snapshot := s.All()
	for _, b := range s.backends {
		if err := b.SaveAll(ctx, snapshot); err != nil {
			s.logger.Warn("population persist failed, continuing in-memory",
				zap.String("backend", b.Name()),
				zap.Int("count", len(snapshot)),
				zap.Error(err),
			)
		}
	}
}

// PersistOne writes a single solution to every backend, logging failures.
func (s *Store) PersistOne(ctx context.Context, sol *solution.Solution) {
	for _, b := range s.backends {
		if err := b.Save(ctx, sol); err != nil {
			s.logger.Warn("solution persist failed, continuing in-memory",
				zap.String("backend", b.Name()),
				zap.String("solution_id", sol.ID),
				zap.Error(err),
			)
		}
	}
}

// Close closes all backends.
func (s *Store) Close() error {
	var firstErr error
	for _, b := range s.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReconstructSignature rebuilds a problem signature from a solution's
// own stored problem pattern, error type and service.
func ReconstructSignature(sol *solution.Solution) signature.ProblemSignature {
	return signature.ProblemSignature{
		ErrorMessage: sol.ProblemPattern,
		ErrorType:    errorTypeOf(sol),
		Service:      sol.Metadata.Service,
	}
}

// SolutionVector reconstructs a solution's feature vector, used for
// similarity ranking against a live signature's vector.
func SolutionVector(sol *solution.Solution) []float64 {
	sig := ReconstructSignature(sol)
	return sig.FeatureVector()
}

// errorTypeOf returns the originating error type recorded in the
// solution's tags; creation paths always tag it first.
func errorTypeOf(sol *solution.Solution) string {
	if len(sol.Metadata.Tags) > 0 {
		return sol.Metadata.Tags[0]
	}
	return "other"
}
