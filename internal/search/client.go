package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultEndpoint       = "https://api.bing.microsoft.com/v7.0/search"
	subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"
)

// ErrBadResponse means the provider answered with a body that does not match the web search contract
var ErrBadResponse = errors.New("malformed search response")

// WebPage is one ranked search hit
type WebPage struct {
	ID         string `json:"id"`
	Name       string `json:"name" validate:"required"`
	URL        string `json:"url" validate:"required,url"`
	DisplayURL string `json:"displayUrl"`
	Snippet    string `json:"snippet"`
}

type webPages struct {
	TotalEstimatedMatches int64     `json:"totalEstimatedMatches"`
	Value                 []WebPage `json:"value" validate:"dive"`
}

type searchResponse struct {
	Type         string `json:"_type"`
	QueryContext struct {
		OriginalQuery string `json:"originalQuery"`
	} `json:"queryContext"`
	WebPages *webPages `json:"webPages"`
}

// Client queries a Bing Web Search v7 compatible endpoint
type Client struct {
	httpClient      *http.Client
	endpoint        string
	subscriptionKey string
	count           int
	validate        *validator.Validate
}

// NewClient creates a search client. count caps the number of results requested; zero leaves it to the provider.
func NewClient(endpoint, subscriptionKey string, count int) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoint:        endpoint,
		subscriptionKey: subscriptionKey,
		count:           count,
		validate:        validator.New(),
	}
}

// Search returns the provider's ranked web pages for query, unfiltered and in order.
// A response without a webPages section yields no pages.
func (c *Client) Search(ctx context.Context, query string) ([]WebPage, error) {
	params := url.Values{}
	params.Set("q", query)
	if c.count > 0 {
		params.Set("count", strconv.Itoa(c.count))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(subscriptionKeyHeader, c.subscriptionKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query search provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search API error: %d - %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if parsed.WebPages == nil {
		return nil, nil
	}
	if err := c.validate.Struct(parsed.WebPages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return parsed.WebPages.Value, nil
}
