package services

import (
	"context"
	"fmt"

	"search-market-agent/internal/search"

	"go.uber.org/zap"
)

// Candidate is one ranked search result proposed as a market outcome
type Candidate struct {
	URL     string
	Name    string
	Snippet string
}

// SearchProvider returns ranked web pages for a query
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]search.WebPage, error)
}

// MarketResolver turns a market's search string into candidate results
type MarketResolver struct {
	provider SearchProvider
	logger   *zap.Logger
}

func NewMarketResolver(provider SearchProvider, logger *zap.Logger) *MarketResolver {
	return &MarketResolver{provider: provider, logger: logger}
}

// Resolve returns the provider's results in rank order. The list is not
// filtered, deduplicated or truncated.
func (r *MarketResolver) Resolve(ctx context.Context, query string) ([]Candidate, error) {
	pages, err := r.provider.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", query, err)
	}

	candidates := make([]Candidate, len(pages))
	for i, page := range pages {
		candidates[i] = Candidate{URL: page.URL, Name: page.Name, Snippet: page.Snippet}
	}

	r.logger.Info("market resolved", zap.String("query", query), zap.Int("candidates", len(candidates)))
	return candidates, nil
}
