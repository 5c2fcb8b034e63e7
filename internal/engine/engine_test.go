package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/healerd/internal/notify"
	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
	"github.com/fyrsmithlabs/healerd/internal/store"
)

type fakeEvolver struct {
	mu          sync.Mutex
	evolveCalls int
	evolveFn    func(base *solution.Solution, sig signature.ProblemSignature) *solution.Solution
	crossoverFn func(a, b *solution.Solution) *solution.Solution
}

func (f *fakeEvolver) Evolve(_ context.Context, base *solution.Solution, sig signature.ProblemSignature) *solution.Solution {
	f.mu.Lock()
	f.evolveCalls++
	f.mu.Unlock()
	if f.evolveFn == nil {
		return nil
	}
	return f.evolveFn(base, sig)
}

func (f *fakeEvolver) Crossover(a, b *solution.Solution) *solution.Solution {
	if f.crossoverFn == nil {
		return nil
	}
	return f.crossoverFn(a, b)
}

type fakeSearcher struct {
	calls  atomic.Int64
	result *solution.Solution
}

func (f *fakeSearcher) Search(context.Context, signature.ProblemSignature) *solution.Solution {
	f.calls.Add(1)
	return f.result
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.OutcomeEvent
}

func (f *fakeNotifier) PublishOutcome(event notify.OutcomeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) all() []notify.OutcomeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.OutcomeEvent(nil), f.events...)
}

func testSignature() signature.ProblemSignature {
	return signature.ProblemSignature{
		ErrorMessage: "connection timeout to upstream",
		ErrorType:    "timeout",
		Service:      "api-gateway",
	}
}

func storedSolution(id string, rate float64, sig signature.ProblemSignature) *solution.Solution {
	return &solution.Solution{
		ID:             id,
		ProblemPattern: sig.ErrorMessage,
		ErrorSignature: sig.CanonicalKey(),
		Body: solution.Body{
			Kind:   solution.KindCommand,
			Action: "restart upstream",
			Code:   "systemctl restart upstream",
		},
		SuccessRate:    rate,
		EvolutionScore: 0.6,
		Metadata: solution.Metadata{
			Service: sig.Service,
			Tags:    []string{sig.ErrorType},
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, evolver Evolver, searcher OnlineSearcher, notifier Notifier) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(nil, nil)
	if evolver == nil {
		evolver = &fakeEvolver{}
	}
	eng, err := New(cfg, st, evolver, searcher, notifier, nil)
	require.NoError(t, err)
	return eng, st
}

func TestNewRequiresStoreAndEvolver(t *testing.T) {
	_, err := New(Config{}, nil, &fakeEvolver{}, nil, nil, nil)
	require.Error(t, err)

	_, err = New(Config{}, store.New(nil, nil), nil, nil, nil, nil)
	require.Error(t, err)
}

func TestAnalyzeProblemRejectsInvalidSignature(t *testing.T) {
	eng, _ := newTestEngine(t, Config{}, nil, nil, nil)

	_, err := eng.AnalyzeProblem(context.Background(), signature.ProblemSignature{})
	require.Error(t, err)
}

func TestAnalyzeProblemExactMatchPassthrough(t *testing.T) {
	sig := testSignature()
	known := storedSolution("sol-1", 0.9, sig)

	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(known))

	got, err := eng.AnalyzeProblem(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, got)

	// The stored solution comes back untouched.
	assert.Equal(t, "sol-1", got.ID)
	assert.Equal(t, 0.9, got.SuccessRate)
	assert.Equal(t, int64(0), got.UsageCount)
}

func TestAnalyzeProblemEvolvesSimilarMatch(t *testing.T) {
	sig := testSignature()
	near := storedSolution("sol-near", 0.6, signature.ProblemSignature{
		ErrorMessage: "timeout talking to backend",
		ErrorType:    "timeout",
		Service:      "api-gateway",
	})

	evolver := &fakeEvolver{
		evolveFn: func(base *solution.Solution, s signature.ProblemSignature) *solution.Solution {
			evolved := base.Clone()
			evolved.ID = base.ID + "-mut-1"
			evolved.ErrorSignature = s.CanonicalKey()
			return evolved
		},
	}

	eng, st := newTestEngine(t, Config{}, evolver, nil, nil)
	require.NoError(t, st.Add(near))

	got, err := eng.AnalyzeProblem(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sol-near-mut-1", got.ID)
	assert.Equal(t, sig.CanonicalKey(), got.ErrorSignature)

	// The evolved variant joins the population.
	stored, err := st.Get("sol-near-mut-1")
	require.NoError(t, err)
	assert.Equal(t, got.ID, stored.ID)
}

func TestAnalyzeProblemOnlineSearchWhenUnknown(t *testing.T) {
	sig := testSignature()
	found := storedSolution("sol-online", 0.5, sig)
	searcher := &fakeSearcher{result: found}

	eng, st := newTestEngine(t, Config{}, nil, searcher, nil)

	got, err := eng.AnalyzeProblem(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "sol-online", got.ID)
	assert.Equal(t, int64(1), searcher.calls.Load())

	_, err = st.Get("sol-online")
	assert.NoError(t, err)
}

func TestAnalyzeProblemSkipsSearchForViableMatch(t *testing.T) {
	sig := testSignature()
	// Known but middling: too weak for passthrough, strong enough to
	// skip external search.
	known := storedSolution("sol-mid", 0.5, sig)
	searcher := &fakeSearcher{result: storedSolution("sol-unwanted", 0.5, sig)}

	eng, st := newTestEngine(t, Config{}, &fakeEvolver{}, searcher, nil)
	require.NoError(t, st.Add(known))

	got, err := eng.AnalyzeProblem(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(0), searcher.calls.Load())
}

func TestAnalyzeProblemSyntheticFallback(t *testing.T) {
	sig := signature.ProblemSignature{
		ErrorMessage: "health endpoint returning 404",
		ErrorType:    "HTTP",
		Service:      "go-api-gateway",
	}

	eng, st := newTestEngine(t, Config{}, nil, nil, nil)

	got, err := eng.AnalyzeProblem(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, solution.KindCommand, got.Body.Kind)
	assert.Equal(t, "systemctl restart go-api-gateway", got.Body.Code)
	assert.Equal(t, 0.5, got.SuccessRate)
	assert.Equal(t, 0.3, got.EvolutionScore)
	assert.Equal(t, "go-api-gateway-http-health-endpoint-returning-404", got.ErrorSignature)
	assert.Contains(t, got.Metadata.Tags, "synthetic")

	// Fallbacks are remembered so outcomes can rank them later.
	_, err = st.Get(got.ID)
	assert.NoError(t, err)
}

func TestFindSimilarOrdersByFitness(t *testing.T) {
	sig := testSignature()
	weak := storedSolution("weak", 0.4, sig)
	strong := storedSolution("strong", 0.9, sig)
	other := storedSolution("other", 0.9, signature.ProblemSignature{
		ErrorMessage: "out of memory",
		ErrorType:    "memory",
		Service:      "billing-db",
	})

	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(weak))
	require.NoError(t, st.Add(strong))
	require.NoError(t, st.Add(other))

	matches := eng.FindSimilar(sig)
	require.Len(t, matches, 2)
	assert.Equal(t, "strong", matches[0].ID)
	assert.Equal(t, "weak", matches[1].ID)
}

func TestPopulationCapEnforced(t *testing.T) {
	eng, st := newTestEngine(t, Config{PopulationCap: 5}, nil, nil, nil)

	services := []string{"svc-a", "svc-b", "svc-c", "svc-d", "svc-e", "svc-f", "svc-g", "svc-h"}
	for _, svc := range services {
		_, err := eng.AnalyzeProblem(context.Background(), signature.ProblemSignature{
			ErrorMessage: "crash loop",
			ErrorType:    "io",
			Service:      svc,
		})
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, st.Len(), 5)
}

func TestRunEvolutionCycleCrossesOverStrongParents(t *testing.T) {
	sigA := testSignature()
	sigB := signature.ProblemSignature{
		ErrorMessage: "gateway timeout on checkout",
		ErrorType:    "timeout",
		Service:      "api-gateway",
	}
	parentA := storedSolution("parent-a", 0.9, sigA)
	parentB := storedSolution("parent-b", 0.85, sigB)

	evolver := &fakeEvolver{
		crossoverFn: func(a, b *solution.Solution) *solution.Solution {
			child := a.Clone()
			child.ID = a.ID + "+" + b.ID + "-x"
			return child
		},
	}

	eng, st := newTestEngine(t, Config{CrossoverRate: 1.0, Seed: 42}, evolver, nil, nil)
	require.NoError(t, st.Add(parentA))
	require.NoError(t, st.Add(parentB))

	eng.RunEvolutionCycle(context.Background())

	_, err := st.Get("parent-a+parent-b-x")
	assert.NoError(t, err)
}

func TestRunEvolutionCycleSingleFlight(t *testing.T) {
	sig := testSignature()
	block := make(chan struct{})
	started := make(chan struct{})

	evolver := &fakeEvolver{
		evolveFn: func(base *solution.Solution, _ signature.ProblemSignature) *solution.Solution {
			close(started)
			<-block
			return nil
		},
	}

	eng, st := newTestEngine(t, Config{MutationRate: 1.0, Seed: 7}, evolver, nil, nil)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	go eng.RunEvolutionCycle(context.Background())
	<-started

	// The overlapping call must return without touching the evolver.
	eng.RunEvolutionCycle(context.Background())
	evolver.mu.Lock()
	calls := evolver.evolveCalls
	evolver.mu.Unlock()
	assert.Equal(t, 1, calls)

	close(block)
}
