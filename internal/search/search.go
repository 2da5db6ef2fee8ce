/*
Package search resolves a product query into a purchasable amazon.ca deep
link. Ranking belongs to the external web-search provider; this package only
appends the site qualifier and filters for product-detail URLs.
*/
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	cseEndpoint    = "https://www.googleapis.com/customsearch/v1"
	requestTimeout = 10 * time.Second

	// siteQualifier restricts every product search to the Canadian retailer.
	siteQualifier = " site:amazon.ca"

	retailHost        = "amazon.ca"
	productPathMarker = "/dp/"

	// Only the first few results are considered before giving up.
	maxResults = 3
)

// Provider issues a free-text web search and returns result URLs in rank
// order.
type Provider interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// GoogleProvider calls the Custom Search JSON API.
type GoogleProvider struct {
	apiKey   string
	engineID string
	baseURL  string
	httpc    *http.Client
}

func NewGoogleProvider(apiKey, engineID string) *GoogleProvider {
	return &GoogleProvider{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  cseEndpoint,
		httpc:    &http.Client{Timeout: requestTimeout},
	}
}

func (p *GoogleProvider) Search(ctx context.Context, query string) ([]string, error) {
	endpoint := fmt.Sprintf("%s?key=%s&cx=%s&num=%d&q=%s",
		p.baseURL, p.apiKey, p.engineID, maxResults, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API returned %s: %s", resp.Status, string(body))
	}

	var parsed struct {
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	links := make([]string, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		links = append(links, item.Link)
	}
	return links, nil
}

// Finder turns a product query into a deep link.
type Finder struct {
	provider Provider
}

func NewFinder(provider Provider) *Finder {
	return &Finder{provider: provider}
}

// FindProduct appends the site qualifier, runs the search, and returns the
// first result that is an amazon.ca product-detail page. No qualifying
// result, or a failed search, returns the empty string; the turn goes on
// without a product.
func (f *Finder) FindProduct(ctx context.Context, query string) string {
	log.Info().Str("query", query).Msg("Searching Amazon Canada...")

	results, err := f.provider.Search(ctx, query+siteQualifier)
	if err != nil {
		log.Error().Err(err).Msg("Product search failed")
		return ""
	}

	for i, raw := range results {
		if i >= maxResults {
			break
		}
		if isProductURL(raw) {
			log.Info().Str("url", raw).Msg("Found product")
			return raw
		}
	}

	log.Warn().Str("query", query).Msg("Could not find a direct Amazon.ca product link")
	return ""
}

// isProductURL requires the retailer's domain and a product-detail path.
// Search or category pages (/s?k=...) never qualify.
func isProductURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(u.Host, "www.")
	return host == retailHost && strings.Contains(u.Path, productPathMarker)
}
