package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shpitdev/leadgen-pipeline/internal/remote"
)

// DefaultGoogleBaseURL is the Custom Search JSON API host.
const DefaultGoogleBaseURL = "https://www.googleapis.com/"

type GoogleConfig struct {
	APIKey string
	CX     string

	// BaseURL overrides the API host. Useful for proxies/testing.
	BaseURL    string
	HTTPClient *http.Client
}

// Google queries the Custom Search JSON API.
type Google struct {
	client *remote.Client
	key    string
	cx     string
}

func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GOOGLE_SEARCH_API_KEY is required")
	}
	if strings.TrimSpace(cfg.CX) == "" {
		return nil, fmt.Errorf("GOOGLE_SEARCH_CX is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultGoogleBaseURL
	}
	c, err := remote.NewClient(base, cfg.HTTPClient, nil)
	if err != nil {
		return nil, err
	}
	return &Google{client: c, key: strings.TrimSpace(cfg.APIKey), cx: strings.TrimSpace(cfg.CX)}, nil
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string, max int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	q := url.Values{}
	q.Set("key", g.key)
	q.Set("cx", g.cx)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(ClampResults(max)))

	var resp googleResponse
	if err := g.client.Do(ctx, remote.Request{Op: "customsearch", Path: "customsearch/v1", Query: q}, &resp); err != nil {
		return nil, remote.Classify(err)
	}

	out := make([]Result, 0, len(resp.Items))
	for _, it := range resp.Items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}
		out = append(out, Result{
			Title:   strings.TrimSpace(it.Title),
			URL:     link,
			Snippet: strings.TrimSpace(it.Snippet),
		})
	}
	return out, nil
}
