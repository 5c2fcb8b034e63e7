// Package search queries external knowledge sources for candidate
// remediations when the learned population has nothing adequate.
//
// Providers are queried in parallel, each bounded by an independent
// timeout. A provider failure is logged and excluded from that round,
// never fatal. Each provider implements its own extractor turning raw
// results into solutions with traceable source attribution and a
// provider-specific initial confidence.
package search

import (
	"context"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// Result is a normalized raw search hit from any provider.
type Result struct {
	// Title is the result headline.
	Title string

	// Snippet is a short excerpt.
	Snippet string

	// SourceURL is the traceable attribution (repository or question URL).
	SourceURL string

	// RawContent is the full matched content when available.
	RawContent string

	// ProviderConfidence is the provider-specific confidence heuristic,
	// used to seed the extracted solution's success rate.
	ProviderConfidence float64
}

// Provider is an external knowledge source with its own extractor.
type Provider interface {
	// Name identifies the provider in logs and attributions.
	Name() string

	// Query issues one search query.
	Query(ctx context.Context, q string) ([]Result, error)

	// Extract converts a raw result into a candidate solution.
	Extract(res Result, sig signature.ProblemSignature) (*solution.Solution, error)
}
