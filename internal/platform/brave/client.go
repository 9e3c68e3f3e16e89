// Package brave is the REST client for the Brave web search API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// Client is the REST client for the Brave search API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Brave REST client.
//
// baseURL is the API root, e.g. "https://api.search.brave.com/res/v1".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider identifier used in aggregated results.
func (c *Client) Name() string { return "brave" }

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
	Infobox struct {
		Results []struct {
			LongDesc string `json:"long_desc"`
		} `json:"results"`
	} `json:"infobox"`
}

// Search runs a Brave web search. The answer text is the infobox description
// when one is present.
func (c *Client) Search(ctx context.Context, query string, maxHits int) (string, []domain.SearchHit, error) {
	if maxHits <= 0 {
		maxHits = 5
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxHits))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("brave: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("brave: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("brave: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("brave: status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", nil, fmt.Errorf("brave: decode response: %w", err)
	}

	var answer string
	if len(out.Infobox.Results) > 0 {
		answer = out.Infobox.Results[0].LongDesc
	}

	hits := make([]domain.SearchHit, 0, len(out.Web.Results))
	for i, r := range out.Web.Results {
		if i >= maxHits {
			break
		}
		hits = append(hits, domain.SearchHit{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	return answer, hits, nil
}
