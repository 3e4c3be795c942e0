// Package search holds the document-search backends the routing graph
// consults: the internal wiki service, the local knowledge-base index,
// and broad web search. Each backend is independently fallible; a
// failed search degrades that tier only.
package search

import "context"

// Result is one ranked search hit. Score is a distance: lower means
// more relevant. Backends that do not score report zero.
type Result struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	URL     string  `json:"url,omitempty"`
	Score   float64 `json:"score"`
}

// Searcher is the common query interface over the backends.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
