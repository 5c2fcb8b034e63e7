// Package engine orchestrates the self-healing remediation pipeline:
// exact match, similarity plus evolution, online knowledge search, and
// the synthetic fallback, with outcome learning feeding the population.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/notify"
	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
	"github.com/fyrsmithlabs/healerd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/healerd/internal/engine"

// Exact matches above this confidence are returned without evolution.
const exactMatchThreshold = 0.8

// Config tunes the evolution and decision behavior.
type Config struct {
	// MutationRate is the per-solution mutation probability in the
	// periodic cycle. Default: 0.3.
	MutationRate float64

	// CrossoverRate is the per-pair crossover probability in the
	// periodic cycle. Default: 0.5.
	CrossoverRate float64

	// SelectionPressure is the success-rate floor for cycle parents.
	// Default: 0.7.
	SelectionPressure float64

	// PopulationCap bounds the population size. Default: 100.
	PopulationCap int

	// OnlineSearchThreshold is the success-rate floor below which an
	// exact match still triggers external search. Default: 0.3.
	OnlineSearchThreshold float64

	// SimilarityThreshold is the cosine floor for similar matches.
	// Default: 0.7.
	SimilarityThreshold float64

	// Seed seeds the cycle's probability draws; 0 uses the clock.
	Seed int64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MutationRate == 0 {
		c.MutationRate = 0.3
	}
	if c.CrossoverRate == 0 {
		c.CrossoverRate = 0.5
	}
	if c.SelectionPressure == 0 {
		c.SelectionPressure = 0.7
	}
	if c.PopulationCap == 0 {
		c.PopulationCap = 100
	}
	if c.OnlineSearchThreshold == 0 {
		c.OnlineSearchThreshold = 0.3
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
}

// Evolver produces new candidate solutions from existing ones.
type Evolver interface {
	Evolve(ctx context.Context, base *solution.Solution, sig signature.ProblemSignature) *solution.Solution
	Crossover(a, b *solution.Solution) *solution.Solution
}

// OnlineSearcher queries external knowledge sources.
type OnlineSearcher interface {
	Search(ctx context.Context, sig signature.ProblemSignature) *solution.Solution
}

// Notifier publishes outcome events for external observers.
type Notifier interface {
	PublishOutcome(event notify.OutcomeEvent)
}

// Engine is the remediation decision service. Construct it once at
// process start and pass it by reference; there is no ambient global.
type Engine struct {
	config   Config
	store    *store.Store
	evolver  Evolver
	searcher OnlineSearcher
	notifier Notifier
	logger   *zap.Logger

	// rngMu serializes draws; the cycle may race analyze calls.
	rngMu sync.Mutex
	rng   *rand.Rand

	// cycleMu is the single-flight guard for the evolution cycle.
	cycleMu sync.Mutex

	tracer         trace.Tracer
	analyzeCounter metric.Int64Counter
	outcomeCounter metric.Int64Counter
	pruneCounter   metric.Int64Counter
}

// New creates the engine. The store and evolver are required; searcher
// and notifier are optional and their stages degrade gracefully.
func New(config Config, st *store.Store, evolver Evolver, searcher OnlineSearcher, notifier Notifier, logger *zap.Logger) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if evolver == nil {
		return nil, fmt.Errorf("evolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		config:   config,
		store:    st,
		evolver:  evolver,
		searcher: searcher,
		notifier: notifier,
		logger:   logger,
		rng:      rand.New(rand.NewSource(seed)),
		tracer:   otel.Tracer(instrumentationName),
	}
	e.initMetrics()
	return e, nil
}

func (e *Engine) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	e.analyzeCounter, err = meter.Int64Counter(
		"healerd.engine.analyses_total",
		metric.WithDescription("Problem analyses by terminal stage"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		e.logger.Warn("failed to create analyze counter", zap.Error(err))
	}

	e.outcomeCounter, err = meter.Int64Counter(
		"healerd.engine.outcomes_total",
		metric.WithDescription("Recorded outcomes"),
		metric.WithUnit("{outcome}"),
	)
	if err != nil {
		e.logger.Warn("failed to create outcome counter", zap.Error(err))
	}

	e.pruneCounter, err = meter.Int64Counter(
		"healerd.engine.pruned_total",
		metric.WithDescription("Solutions removed by population pruning"),
		metric.WithUnit("{solution}"),
	)
	if err != nil {
		e.logger.Warn("failed to create prune counter", zap.Error(err))
	}
}

// AnalyzeProblem selects, adapts, or synthesizes a solution for the
// failure. Every invocation is a fresh decision; the only error case
// is a malformed signature.
func (e *Engine) AnalyzeProblem(ctx context.Context, sig signature.ProblemSignature) (*solution.Solution, error) {
	ctx, span := e.tracer.Start(ctx, "engine.analyze_problem")
	defer span.End()

	if err := sig.Validate(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("invalid problem signature: %w", err)
	}

	key := sig.CanonicalKey()
	span.SetAttributes(
		attribute.String("service", sig.Service),
		attribute.String("error_type", sig.ErrorType),
	)

	// Stage 1: exact match.
	exact := e.store.ExactLookup(key)
	if exact != nil && exact.SuccessRate > exactMatchThreshold {
		e.countAnalysis(ctx, span, "exact")
		return exact, nil
	}

	// Stage 2: similar match evolved to fit.
	if similar := e.FindSimilar(sig); len(similar) > 0 {
		if evolved := e.evolver.Evolve(ctx, similar[0], sig); evolved != nil {
			e.adopt(ctx, evolved)
			e.countAnalysis(ctx, span, "evolved")
			return evolved, nil
		}
	}

	// Stage 3: online knowledge search, when nothing is known or the
	// known match has decayed below the search threshold.
	if e.searcher != nil && (exact == nil || exact.SuccessRate < e.config.OnlineSearchThreshold) {
		if found := e.searcher.Search(ctx, sig); found != nil {
			e.adopt(ctx, found)
			e.countAnalysis(ctx, span, "online")
			return found, nil
		}
	}

	// Stage 4: synthetic fallback, the guaranteed terminal branch.
	fallback := syntheticFallback(sig)
	e.adopt(ctx, fallback)
	e.countAnalysis(ctx, span, "fallback")
	return fallback, nil
}

func (e *Engine) countAnalysis(ctx context.Context, span trace.Span, stage string) {
	span.SetAttributes(attribute.String("stage", stage))
	if e.analyzeCounter != nil {
		e.analyzeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// adopt adds a new solution to the population, enforces the cap, and
// persists asynchronously off the decision path.
func (e *Engine) adopt(ctx context.Context, sol *solution.Solution) {
	if err := e.store.Add(sol); err != nil {
		// Re-deriving an already-known solution is routine; anything
		// else is worth surfacing.
		if errors.Is(err, store.ErrDuplicateID) {
			return
		}
		e.logger.Warn("failed to adopt solution",
			zap.String("solution_id", sol.ID),
			zap.Error(err),
		)
		return
	}
	e.PruneIfNeeded(ctx)
	e.persistAsync(sol)
}

// persistAsync writes one solution to the backends without blocking the
// caller. A crash before the write completes loses the update.
func (e *Engine) persistAsync(sol *solution.Solution) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.store.PersistOne(ctx, sol)
	}()
}

// FindSimilar ranks stored solutions by fitness among those whose
// reconstructed feature vector is cosine-similar to the signature.
func (e *Engine) FindSimilar(sig signature.ProblemSignature) []*solution.Solution {
	vec := sig.FeatureVector()

	var matches []*solution.Solution
	for _, cand := range e.store.All() {
		if signature.Cosine(vec, store.SolutionVector(cand)) > e.config.SimilarityThreshold {
			matches = append(matches, cand)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Fitness() > matches[j].Fitness()
	})
	return matches
}

// syntheticFallback produces the baseline restart command for the
// failing service. It never returns nil.
func syntheticFallback(sig signature.ProblemSignature) *solution.Solution {
	service := strings.TrimSpace(sig.Service)
	return &solution.Solution{
		ID:             "synthetic-" + sig.CanonicalKey(),
		ProblemPattern: sig.ErrorMessage,
		ErrorSignature: sig.CanonicalKey(),
		Body: solution.Body{
			Kind:   solution.KindCommand,
			Action: fmt.Sprintf("restart %s", service),
			Code:   fmt.Sprintf("systemctl restart %s", service),
		},
		SuccessRate:    0.5,
		EvolutionScore: 0.3,
		Metadata: solution.Metadata{
			Service: service,
			Tags:    []string{strings.ToLower(sig.ErrorType), "synthetic"},
		},
	}
}

// chance draws one probability under the rng lock.
func (e *Engine) chance(p float64) bool {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64() < p
}
