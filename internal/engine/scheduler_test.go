package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

func TestNewCycleSchedulerRequiresEngine(t *testing.T) {
	_, err := NewCycleScheduler(nil, nil)
	require.Error(t, err)
}

func TestCycleSchedulerStartStop(t *testing.T) {
	eng, _ := newTestEngine(t, Config{}, nil, nil, nil)
	sched, err := NewCycleScheduler(eng, nil, WithInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, sched.Start())
	assert.Error(t, sched.Start(), "second start must be rejected")

	require.NoError(t, sched.Stop())
	assert.NoError(t, sched.Stop(), "second stop is a no-op")

	// The scheduler can be restarted after a stop.
	require.NoError(t, sched.Start())
	require.NoError(t, sched.Stop())
}

func TestCycleSchedulerRunsCycles(t *testing.T) {
	sig := testSignature()
	evolver := &fakeEvolver{
		evolveFn: func(*solution.Solution, signature.ProblemSignature) *solution.Solution {
			return nil
		},
	}
	eng, st := newTestEngine(t, Config{MutationRate: 1.0, Seed: 3}, evolver, nil, nil)
	require.NoError(t, st.Add(storedSolution("sol-1", 0.5, sig)))

	sched, err := NewCycleScheduler(eng, nil, WithInterval(20*time.Millisecond), WithRunTimeout(time.Second))
	require.NoError(t, err)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		evolver.mu.Lock()
		defer evolver.mu.Unlock()
		return evolver.evolveCalls >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
