package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const wikiTimeout = 10 * time.Second

// WikiClient queries the internal wiki search service over HTTP.
// It is the fast tier: company documentation with authoritative
// answers, when they exist.
type WikiClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewWikiClient creates a client for the wiki search service at baseURL.
func NewWikiClient(baseURL string, logger *slog.Logger) *WikiClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WikiClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: wikiTimeout},
		logger:  logger,
	}
}

type wikiSearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type wikiSearchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Excerpt string  `json:"excerpt"`
		URL     string  `json:"url"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search posts the query to the wiki service and maps its results.
func (c *WikiClient) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	payload, err := json.Marshal(wikiSearchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("wiki search: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("wiki search: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiki search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("wiki search: status %d: %s", resp.StatusCode, string(body))
	}

	var wr wikiSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("wiki search: decode: %w", err)
	}

	results := make([]Result, 0, len(wr.Results))
	for _, r := range wr.Results {
		content := r.Content
		if content == "" {
			content = r.Excerpt
		}
		results = append(results, Result{
			Title:   r.Title,
			Content: content,
			URL:     r.URL,
			Score:   r.Score,
		})
	}
	c.logger.Debug("wiki search complete", "query", query, "results", len(results))
	return results, nil
}
