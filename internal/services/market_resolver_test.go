package services

import (
	"context"
	"errors"
	"testing"

	"search-market-agent/internal/search"

	"go.uber.org/zap"
)

type stubProvider struct {
	pages   []search.WebPage
	err     error
	queries []string
}

func (s *stubProvider) Search(_ context.Context, query string) ([]search.WebPage, error) {
	s.queries = append(s.queries, query)
	return s.pages, s.err
}

func TestResolveKeepsRankOrder(t *testing.T) {
	provider := &stubProvider{pages: []search.WebPage{
		{Name: "B", URL: "https://b.example", Snippet: "second"},
		{Name: "A", URL: "https://a.example"},
		{Name: "B", URL: "https://b.example", Snippet: "second"},
	}}
	resolver := NewMarketResolver(provider, zap.NewNop())

	got, err := resolver.Resolve(context.Background(), "best search engine")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3 (no dedup)", len(got))
	}
	if got[0].Name != "B" || got[1].URL != "https://a.example" || got[2].Snippet != "second" {
		t.Errorf("candidates = %+v", got)
	}
	if len(provider.queries) != 1 || provider.queries[0] != "best search engine" {
		t.Errorf("queries = %v", provider.queries)
	}
}

func TestResolvePropagatesProviderError(t *testing.T) {
	resolver := NewMarketResolver(&stubProvider{err: search.ErrBadResponse}, zap.NewNop())

	if _, err := resolver.Resolve(context.Background(), "q"); !errors.Is(err, search.ErrBadResponse) {
		t.Errorf("err = %v, want ErrBadResponse", err)
	}
}
