package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// githubDefaultConfidence seeds solutions extracted from code search;
// code hits carry no vote signal, so a flat default applies.
const githubDefaultConfidence = 0.5

// GitHubProvider searches GitHub code for remediation candidates.
type GitHubProvider struct {
	client  *github.Client
	limiter *rate.Limiter
}

// NewGitHubProvider creates a provider authenticated with the given
// token. GitHub code search requires authentication.
func NewGitHubProvider(ctx context.Context, token string) (*GitHubProvider, error) {
	if token == "" {
		return nil, errors.New("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubProvider{
		client: github.NewClient(tc),
		// Code search is limited to 10 requests/minute for
		// authenticated clients.
		limiter: rate.NewLimiter(rate.Limit(10.0/60.0), 1),
	}, nil
}

// Name implements Provider.
func (p *GitHubProvider) Name() string { return "github" }

// Query implements Provider.
func (p *GitHubProvider) Query(ctx context.Context, q string) ([]Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, _, err := p.client.Search.Code(ctx, q, &github.SearchOptions{
		TextMatch:   true,
		ListOptions: github.ListOptions{PerPage: 5},
	})
	if err != nil {
		return nil, fmt.Errorf("github code search: %w", err)
	}

	results := make([]Result, 0, len(res.CodeResults))
	for _, cr := range res.CodeResults {
		var fragments []string
		for _, tm := range cr.TextMatches {
			if tm.Fragment != nil {
				fragments = append(fragments, *tm.Fragment)
			}
		}
		results = append(results, Result{
			Title:              cr.GetPath(),
			Snippet:            cr.GetRepository().GetFullName(),
			SourceURL:          cr.GetHTMLURL(),
			RawContent:         strings.Join(fragments, "\n"),
			ProviderConfidence: githubDefaultConfidence,
		})
	}
	return results, nil
}

// Extract implements Provider.
func (p *GitHubProvider) Extract(res Result, sig signature.ProblemSignature) (*solution.Solution, error) {
	if res.SourceURL == "" {
		return nil, errors.New("result has no source URL")
	}

	code := res.RawContent
	if code == "" {
		code = res.Snippet
	}

	return &solution.Solution{
		ID:             uuid.New().String(),
		ProblemPattern: sig.ErrorMessage,
		ErrorSignature: sig.CanonicalKey(),
		Body: solution.Body{
			Kind:   solution.KindCode,
			Action: fmt.Sprintf("apply fix from %s", res.Title),
			Code:   code,
			Source: res.SourceURL,
		},
		SuccessRate:    solution.Clamp01(res.ProviderConfidence),
		EvolutionScore: 0.5,
		Metadata: solution.Metadata{
			Service: sig.Service,
			Tags:    []string{strings.ToLower(sig.ErrorType), "online", p.Name()},
		},
	}, nil
}
