// Package search wraps external web search APIs behind a per-minute quota.
package search

import (
	"context"
	"strings"
)

// MaxResults is the per-call ceiling imposed by the Custom Search API.
const MaxResults = 10

// Result is one normalized search hit. URL is its identity.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs one query and returns at most max results in rank order.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// Func adapts a function to Searcher.
type Func func(ctx context.Context, query string, max int) ([]Result, error)

func (f Func) Search(ctx context.Context, query string, max int) ([]Result, error) {
	return f(ctx, query, max)
}

// ClampResults bounds a requested result count to 1..MaxResults.
func ClampResults(n int) int {
	if n <= 0 {
		return 1
	}
	if n > MaxResults {
		return MaxResults
	}
	return n
}

// Seen tracks URLs already returned during one research pass.
type Seen struct {
	urls  map[string]struct{}
	order []string
}

func NewSeen(initial ...string) *Seen {
	s := &Seen{urls: make(map[string]struct{})}
	for _, u := range initial {
		s.Add(u)
	}
	return s
}

// Add records url and reports whether it was new.
func (s *Seen) Add(url string) bool {
	key := strings.TrimSpace(url)
	if key == "" {
		return false
	}
	if _, ok := s.urls[key]; ok {
		return false
	}
	s.urls[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Filter returns the results whose URLs were not seen before and marks them seen.
// Results without a URL are dropped.
func (s *Seen) Filter(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if s.Add(r.URL) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Seen) Len() int { return len(s.order) }

// URLs returns seen URLs in first-seen order.
func (s *Seen) URLs() []string {
	return append([]string(nil), s.order...)
}
