// Package serper is the REST client for the Serper Google search API.
package serper

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

// Client is the REST client for the Serper search API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Serper REST client.
//
// baseURL is the API root, e.g. "https://google.serper.dev".
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
func (c *Client) Name() string { return "serper" }

type searchResponse struct {
	AnswerBox struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
	KnowledgeGraph struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"knowledgeGraph"`
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search runs a Google search via Serper. The answer text prefers the
// answer box, then the knowledge graph description.
func (c *Client) Search(ctx context.Context, query string, maxHits int) (string, []domain.SearchHit, error) {
	if maxHits <= 0 {
		maxHits = 5
	}
	payload := map[string]any{"q": query, "num": maxHits}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("serper: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(jsonBody))
	if err != nil {
		return "", nil, fmt.Errorf("serper: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("serper: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("serper: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("serper: status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", nil, fmt.Errorf("serper: decode response: %w", err)
	}

	answer := out.AnswerBox.Answer
	if answer == "" {
		answer = out.AnswerBox.Snippet
	}
	if answer == "" {
		answer = out.KnowledgeGraph.Description
	}

	hits := make([]domain.SearchHit, 0, len(out.Organic))
	for i, r := range out.Organic {
		if i >= maxHits {
			break
		}
		hits = append(hits, domain.SearchHit{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
		})
	}
	return answer, hits, nil
}
