package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

const (
	webFetchTimeout = 30 * time.Second
	maxFetchSize    = 50 * 1024 // 50KB of extracted text
)

// WebSearcher is the broad external tier: Brave Search for ranking
// plus readability extraction of page content.
type WebSearcher struct {
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewWebSearcher creates a web searcher. An empty API key yields a
// searcher whose queries always fail, which the routing graph treats
// as a degraded tier.
func NewWebSearcher(apiKey string, logger *slog.Logger) *WebSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSearcher{
		apiKey: apiKey,
		client: &http.Client{Timeout: webFetchTimeout},
		logger: logger,
	}
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search queries the Brave Search API.
func (w *WebSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if w.apiKey == "" {
		return nil, fmt.Errorf("web search: no API key configured")
	}

	reqURL := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d",
		url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("web search: API returned %d: %s", resp.StatusCode, string(body))
	}

	var br braveSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("web search: parse response: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			Content: r.Description,
			URL:     r.URL,
		})
	}
	w.logger.Debug("web search complete", "query", query, "results", len(results))
	return results, nil
}

// FetchReadable downloads a page and extracts its readable text.
func (w *WebSearcher) FetchReadable(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("web fetch: invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("web fetch: %w", err)
	}
	req.Header.Set("User-Agent", "opsdesk/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web fetch: HTTP %d", resp.StatusCode)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
		return string(body), nil
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("web fetch: parse: %w", err)
	}

	var textBuf bytes.Buffer
	if err := article.RenderText(&textBuf); err != nil {
		return "", fmt.Errorf("web fetch: render: %w", err)
	}

	text := textBuf.String()
	if len(text) > maxFetchSize {
		text = text[:maxFetchSize] + "\n... [truncated]"
	}
	return text, nil
}
