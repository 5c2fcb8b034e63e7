package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

const instrumentationName = "github.com/fyrsmithlabs/healerd/internal/search"

// Config configures the searcher.
type Config struct {
	// ProviderTimeout bounds each provider's whole query round.
	// Default: 5s.
	ProviderTimeout time.Duration

	// MaxQueries caps how many queries are derived from one signature.
	// Default: 3.
	MaxQueries int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = 5 * time.Second
	}
	if c.MaxQueries == 0 {
		c.MaxQueries = 3
	}
}

// Searcher fans a signature's queries out to all providers and returns
// the best extracted candidate.
type Searcher struct {
	config    Config
	providers []Provider
	logger    *zap.Logger

	tracer        trace.Tracer
	searchCounter metric.Int64Counter
}

// NewSearcher creates a searcher over the given providers.
func NewSearcher(config Config, providers []Provider, logger *zap.Logger) *Searcher {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Searcher{
		config:    config,
		providers: providers,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.searchCounter, err = meter.Int64Counter(
		"healerd.search.provider_queries_total",
		metric.WithDescription("Total provider query rounds"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		logger.Warn("failed to create search counter", zap.Error(err))
	}

	return s
}

// BuildQueries derives 2-3 ranked search queries from a signature:
// the error message with the service, the error type with the service
// and "fix", and the top stack-trace identifiers.
func (s *Searcher) BuildQueries(sig signature.ProblemSignature) []string {
	queries := []string{
		strings.TrimSpace(sig.ErrorMessage + " " + sig.Service),
		strings.TrimSpace(sig.ErrorType + " " + sig.Service + " fix"),
	}
	if ids := sig.StackIdentifiers(3); len(ids) > 0 {
		queries = append(queries, strings.Join(ids, " "))
	}
	if len(queries) > s.config.MaxQueries {
		queries = queries[:s.config.MaxQueries]
	}
	return queries
}

// Search queries all providers in parallel and returns the candidate
// with the highest seeded confidence, or nil when nothing usable was
// found. Provider failures are logged and excluded, never fatal.
func (s *Searcher) Search(ctx context.Context, sig signature.ProblemSignature) *solution.Solution {
	ctx, span := s.tracer.Start(ctx, "search.online")
	defer span.End()

	queries := s.BuildQueries(sig)
	span.SetAttributes(
		attribute.Int("query_count", len(queries)),
		attribute.Int("provider_count", len(s.providers)),
	)

	var (
		mu         sync.Mutex
		candidates []*solution.Solution
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.providers {
		g.Go(func() error {
			// Independent timeout per provider; a slow provider is
			// cancelled without aborting the others.
			pctx, cancel := context.WithTimeout(gctx, s.config.ProviderTimeout)
			defer cancel()

			sols := s.queryProvider(pctx, p, queries, sig)

			mu.Lock()
			candidates = append(candidates, sols...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // provider errors are handled per-provider, never returned

	if s.searchCounter != nil {
		s.searchCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("candidate_count", len(candidates)),
		))
	}

	var best *solution.Solution
	for _, c := range candidates {
		if best == nil || c.SuccessRate > best.SuccessRate {
			best = c
		}
	}
	if best != nil {
		span.SetAttributes(attribute.String("source", best.Body.Source))
	}
	return best
}

// queryProvider runs the ranked queries against one provider, stopping
// at the first query that yields results, and extracts candidates.
func (s *Searcher) queryProvider(ctx context.Context, p Provider, queries []string, sig signature.ProblemSignature) []*solution.Solution {
	for _, q := range queries {
		results, err := p.Query(ctx, q)
		if err != nil {
			s.logger.Warn("search provider failed, excluding from round",
				zap.String("provider", p.Name()),
				zap.String("query", q),
				zap.Error(err),
			)
			return nil
		}
		if len(results) == 0 {
			continue
		}

		var sols []*solution.Solution
		for _, res := range results {
			sol, err := p.Extract(res, sig)
			if err != nil {
				s.logger.Debug("skipping unextractable result",
					zap.String("provider", p.Name()),
					zap.String("source_url", res.SourceURL),
					zap.Error(err),
				)
				continue
			}
			sols = append(sols, sol)
		}
		if len(sols) > 0 {
			return sols
		}
	}
	return nil
}
