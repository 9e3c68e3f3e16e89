// Package exa is the REST client for the Exa neural search API.
package exa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// Client is the REST client for the Exa search API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Exa REST client.
//
// baseURL is the API root, e.g. "https://api.exa.ai".
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
func (c *Client) Name() string { return "exa" }

type searchRequest struct {
	Query      string          `json:"query"`
	NumResults int             `json:"numResults"`
	Contents   searchContents  `json:"contents"`
	Type       string          `json:"type,omitempty"`
}

type searchContents struct {
	Text      bool `json:"text"`
	Summary   bool `json:"summary,omitempty"`
	Highlight bool `json:"highlights,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Text    string `json:"text"`
		Summary string `json:"summary"`
	} `json:"results"`
}

// Search runs a neural search and returns the top hits. The answer text is
// the summary of the first result when Exa provides one.
func (c *Client) Search(ctx context.Context, query string, maxHits int) (string, []domain.SearchHit, error) {
	if maxHits <= 0 {
		maxHits = 5
	}
	body, err := c.doPost(ctx, "/search", searchRequest{
		Query:      query,
		NumResults: maxHits,
		Contents:   searchContents{Text: true, Summary: true},
	})
	if err != nil {
		return "", nil, fmt.Errorf("exa: search: %w", err)
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, fmt.Errorf("exa: decode search response: %w", err)
	}

	var answer string
	hits := make([]domain.SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		snippet := r.Summary
		if snippet == "" {
			snippet = truncate(r.Text, 500)
		}
		if answer == "" && r.Summary != "" {
			answer = r.Summary
		}
		hits = append(hits, domain.SearchHit{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: snippet,
		})
	}
	return answer, hits, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (c *Client) doPost(ctx context.Context, path string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}
