package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

func testSignature() signature.ProblemSignature {
	return signature.ProblemSignature{
		ErrorMessage: "connection refused to postgres",
		ErrorType:    "connection",
		Service:      "billing-db",
		StackTrace:   "at openConn (db.go:10)\nat initPool (pool.go:20)",
	}
}

// fakeProvider returns canned results or an error.
type fakeProvider struct {
	name    string
	results []Result
	err     error
	delay   time.Duration
	queries []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Query(ctx context.Context, q string) ([]Result, error) {
	f.queries = append(f.queries, q)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.results, f.err
}

func (f *fakeProvider) Extract(res Result, sig signature.ProblemSignature) (*solution.Solution, error) {
	if res.SourceURL == "" {
		return nil, errors.New("no source")
	}
	return &solution.Solution{
		ID:             res.SourceURL,
		ErrorSignature: sig.CanonicalKey(),
		Body:           solution.Body{Kind: solution.KindOnline, Source: res.SourceURL},
		SuccessRate:    res.ProviderConfidence,
	}, nil
}

func TestBuildQueries(t *testing.T) {
	s := NewSearcher(Config{}, nil, zap.NewNop())
	queries := s.BuildQueries(testSignature())

	require.Len(t, queries, 3)
	assert.Equal(t, "connection refused to postgres billing-db", queries[0])
	assert.Equal(t, "connection billing-db fix", queries[1])
	assert.Contains(t, queries[2], "openConn")
}

func TestBuildQueriesWithoutStackTrace(t *testing.T) {
	s := NewSearcher(Config{}, nil, zap.NewNop())
	sig := testSignature()
	sig.StackTrace = ""

	queries := s.BuildQueries(sig)
	assert.Len(t, queries, 2)
}

func TestSearchPicksHighestConfidence(t *testing.T) {
	low := &fakeProvider{name: "low", results: []Result{
		{SourceURL: "https://example.com/low", ProviderConfidence: 0.4},
	}}
	high := &fakeProvider{name: "high", results: []Result{
		{SourceURL: "https://example.com/high", ProviderConfidence: 0.8},
	}}

	s := NewSearcher(Config{}, []Provider{low, high}, zap.NewNop())
	best := s.Search(context.Background(), testSignature())

	require.NotNil(t, best)
	assert.Equal(t, "https://example.com/high", best.ID)
}

func TestSearchToleratesProviderFailure(t *testing.T) {
	failing := &fakeProvider{name: "failing", err: errors.New("rate limited")}
	working := &fakeProvider{name: "working", results: []Result{
		{SourceURL: "https://example.com/ok", ProviderConfidence: 0.5},
	}}

	s := NewSearcher(Config{}, []Provider{failing, working}, zap.NewNop())
	best := s.Search(context.Background(), testSignature())

	require.NotNil(t, best)
	assert.Equal(t, "https://example.com/ok", best.ID)
}

func TestSearchTimesOutSlowProvider(t *testing.T) {
	slow := &fakeProvider{name: "slow", delay: time.Second, results: []Result{
		{SourceURL: "https://example.com/slow", ProviderConfidence: 0.9},
	}}
	fast := &fakeProvider{name: "fast", results: []Result{
		{SourceURL: "https://example.com/fast", ProviderConfidence: 0.5},
	}}

	s := NewSearcher(Config{ProviderTimeout: 50 * time.Millisecond}, []Provider{slow, fast}, zap.NewNop())

	start := time.Now()
	best := s.Search(context.Background(), testSignature())
	elapsed := time.Since(start)

	require.NotNil(t, best)
	assert.Equal(t, "https://example.com/fast", best.ID)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestSearchReturnsNilWhenNothingUsable(t *testing.T) {
	empty := &fakeProvider{name: "empty"}
	unextractable := &fakeProvider{name: "bad", results: []Result{{Title: "no url"}}}

	s := NewSearcher(Config{}, []Provider{empty, unextractable}, zap.NewNop())
	assert.Nil(t, s.Search(context.Background(), testSignature()))
}

func TestSearchNoProviders(t *testing.T) {
	s := NewSearcher(Config{}, nil, zap.NewNop())
	assert.Nil(t, s.Search(context.Background(), testSignature()))
}
