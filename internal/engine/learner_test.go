package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/healerd/internal/store"
)

func TestRecordOutcomeSuccess(t *testing.T) {
	sig := testSignature()
	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	require.NoError(t, eng.RecordOutcome(context.Background(), "sol-1", true, 0.8))

	got, err := st.Get("sol-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.65, got.SuccessRate, 1e-9)
	assert.InDelta(t, 0.65, got.EvolutionScore, 1e-9)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.False(t, got.LastUsed.IsZero())
}

func TestRecordOutcomeFailure(t *testing.T) {
	sig := testSignature()
	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	require.NoError(t, eng.RecordOutcome(context.Background(), "sol-1", false, 0))

	got, err := st.Get("sol-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.35, got.SuccessRate, 1e-9)
	assert.InDelta(t, 0.5, got.EvolutionScore, 1e-9)
}

func TestRecordOutcomeUnknownSolution(t *testing.T) {
	eng, _ := newTestEngine(t, Config{}, nil, nil, nil)

	err := eng.RecordOutcome(context.Background(), "missing", true, 0)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordOutcomeConvergesTowardObservations(t *testing.T) {
	sig := testSignature()
	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	for i := 0; i < 10; i++ {
		require.NoError(t, eng.RecordOutcome(context.Background(), "sol-1", true, 1))
	}

	got, err := st.Get("sol-1")
	require.NoError(t, err)
	assert.Greater(t, got.SuccessRate, 0.95)
	assert.LessOrEqual(t, got.SuccessRate, 1.0)
}

func TestRecordOutcomeClampsEvolutionScore(t *testing.T) {
	sig := testSignature()
	high := storedSolution("high", 0.5, sig)
	high.EvolutionScore = 0.98
	low := storedSolution("low", 0.5, sig)
	low.EvolutionScore = 0.05

	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(high))
	require.NoError(t, st.Add(low))

	require.NoError(t, eng.RecordOutcome(context.Background(), "high", true, 1))
	require.NoError(t, eng.RecordOutcome(context.Background(), "low", false, 0))

	gotHigh, err := st.Get("high")
	require.NoError(t, err)
	assert.Equal(t, 1.0, gotHigh.EvolutionScore)

	gotLow, err := st.Get("low")
	require.NoError(t, err)
	assert.Equal(t, 0.0, gotLow.EvolutionScore)
}

func TestRecordOutcomeConcurrent(t *testing.T) {
	sig := testSignature()
	eng, st := newTestEngine(t, Config{}, nil, nil, nil)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	const workers = 100
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = eng.RecordOutcome(context.Background(), "sol-1", true, 1)
		}()
	}
	wg.Wait()

	got, err := st.Get("sol-1")
	require.NoError(t, err)
	// Every outcome landed exactly once, in some serial order.
	assert.Equal(t, int64(workers), got.UsageCount)
	assert.Greater(t, got.SuccessRate, 0.99)
}

func TestRecordOutcomePublishesEvent(t *testing.T) {
	sig := testSignature()
	notifier := &fakeNotifier{}
	eng, st := newTestEngine(t, Config{}, nil, nil, notifier)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	require.NoError(t, eng.RecordOutcome(context.Background(), "sol-1", true, 0.75))

	events := notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "sol-1", events[0].SolutionID)
	assert.Equal(t, sig.CanonicalKey(), events[0].ErrorSignature)
	assert.True(t, events[0].Success)
	assert.Equal(t, 0.75, events[0].Performance)
	assert.False(t, events[0].RecordedAt.IsZero())
}
