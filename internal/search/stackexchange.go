package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/healerd/internal/signature"
	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// defaultStackExchangeBaseURL is the public Stack Exchange API.
// There is no maintained Go SDK for it, so this provider speaks the
// JSON API directly.
const defaultStackExchangeBaseURL = "https://api.stackexchange.com/2.3"

// StackExchangeProvider searches Stack Overflow questions and answers.
type StackExchangeProvider struct {
	baseURL string
	site    string
	client  *http.Client
	limiter *rate.Limiter
}

// StackExchangeOption configures a StackExchangeProvider.
type StackExchangeOption func(*StackExchangeProvider)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(u string) StackExchangeOption {
	return func(p *StackExchangeProvider) { p.baseURL = u }
}

// WithSite sets the Stack Exchange site. Default: stackoverflow.
func WithSite(site string) StackExchangeOption {
	return func(p *StackExchangeProvider) { p.site = site }
}

// NewStackExchangeProvider creates a Q&A search provider.
func NewStackExchangeProvider(opts ...StackExchangeOption) *StackExchangeProvider {
	p := &StackExchangeProvider{
		baseURL: defaultStackExchangeBaseURL,
		site:    "stackoverflow",
		client:  &http.Client{Timeout: 10 * time.Second},
		// Unauthenticated quota is ~30 requests/second shared; stay
		// well under it.
		limiter: rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *StackExchangeProvider) Name() string { return "stackexchange" }

// seItem is one entry of the search/advanced response.
type seItem struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Score      int    `json:"score"`
	IsAnswered bool   `json:"is_answered"`
	Body       string `json:"body"`
}

type seResponse struct {
	Items []seItem `json:"items"`
}

// Query implements Provider.
func (p *StackExchangeProvider) Query(ctx context.Context, q string) ([]Result, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"order":    {"desc"},
		"sort":     {"relevance"},
		"q":        {q},
		"site":     {p.site},
		"filter":   {"withbody"},
		"pagesize": {"5"},
	}
	reqURL := p.baseURL + "/search/advanced?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stackexchange search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stackexchange search: unexpected status %d", resp.StatusCode)
	}

	var parsed seResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding stackexchange response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		results = append(results, Result{
			Title:              item.Title,
			Snippet:            snippetOf(item.Body),
			SourceURL:          item.Link,
			RawContent:         item.Body,
			ProviderConfidence: qaConfidence(item.Score, item.IsAnswered),
		})
	}
	return results, nil
}

// qaConfidence weights initial confidence by question score: each vote
// is worth 0.05 on top of a 0.3 floor, answered questions get a bump,
// capped at 0.9 so learned outcomes stay in charge.
func qaConfidence(score int, answered bool) float64 {
	conf := 0.3 + float64(score)*0.05
	if answered {
		conf += 0.1
	}
	if conf > 0.9 {
		conf = 0.9
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

func snippetOf(body string) string {
	const max = 200
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	return body[:max]
}

// Extract implements Provider.
func (p *StackExchangeProvider) Extract(res Result, sig signature.ProblemSignature) (*solution.Solution, error) {
	if res.SourceURL == "" {
		return nil, errors.New("result has no source URL")
	}

	return &solution.Solution{
		ID:             uuid.New().String(),
		ProblemPattern: sig.ErrorMessage,
		ErrorSignature: sig.CanonicalKey(),
		Body: solution.Body{
			Kind:   solution.KindOnline,
			Action: fmt.Sprintf("apply accepted approach from %q", res.Title),
			Code:   res.RawContent,
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
