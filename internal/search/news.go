package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/shpitdev/leadgen-pipeline/internal/remote"
	"golang.org/x/net/html"
)

// DefaultNewsFeedURL is the Google News RSS search endpoint.
const DefaultNewsFeedURL = "https://news.google.com/rss/search"

const newsUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// News searches recent press coverage through the Google News RSS feed. It needs no
// API key, which makes it a usable backend for trigger-event research (funding,
// hiring, launches) when Custom Search credentials are absent.
type News struct {
	FeedURL string
	HTTP    *http.Client
}

func (n *News) Search(ctx context.Context, query string, max int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	feedURL := n.FeedURL
	if strings.TrimSpace(feedURL) == "" {
		feedURL = DefaultNewsFeedURL
	}
	hc := n.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse news feed URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("hl", "en-US")
	q.Set("gl", "US")
	q.Set("ceid", "US:en")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", newsUserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, remote.Classify(remote.NewHTTPError("news", resp, b))
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse news feed: %w", err)
	}

	limit := ClampResults(max)
	out := make([]Result, 0, limit)
	for _, it := range feed.Items {
		if len(out) >= limit {
			break
		}
		if it == nil || strings.TrimSpace(it.Link) == "" {
			continue
		}
		out = append(out, Result{
			Title:   strings.TrimSpace(it.Title),
			URL:     strings.TrimSpace(it.Link),
			Snippet: StripHTML(it.Description),
		})
	}
	return out, nil
}

// StripHTML returns the text content of an HTML fragment with whitespace collapsed.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
			sb.WriteByte(' ')
		}
	}
}
