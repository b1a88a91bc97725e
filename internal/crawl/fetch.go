// Package crawl fetches web pages, reduces them to text and runs the bounded model
// conversation that extracts and confirms a page's content.
package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/shpitdev/leadgen-pipeline/internal/remote"
)

const (
	maxPageBytes     = 2 << 20
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// Page is the extracted text of one URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher retrieves a page and extracts its text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// HTTPFetcher fetches pages with a plain GET. Script-rendered pages need BrowserFetcher.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPFetcher(timeout time.Duration) (*HTTPFetcher, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hc, err := remote.NewHTTPClient(timeout, "")
	if err != nil {
		return nil, err
	}
	return &HTTPFetcher{Client: hc, UserAgent: defaultUserAgent}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %w", err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	hc := f.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode/100 != 2 {
		return Page{}, remote.Classify(remote.NewHTTPError("crawl.fetch", resp, body))
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/plain") || strings.Contains(ct, "text/markdown") {
		return Page{URL: url, Text: clean(string(body))}, nil
	}
	title, text, err := ExtractText(strings.NewReader(string(body)))
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	return Page{URL: url, Title: title, Text: text}, nil
}

// ExtractText returns the document title and its readable text. Scripts, styles and
// page chrome (nav, footer, noscript) are dropped.
func ExtractText(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}
	var sb strings.Builder
	walk(doc, &sb, &title, 0)
	return strings.TrimSpace(title), clean(sb.String()), nil
}

func walk(n *html.Node, sb *strings.Builder, title *string, depth int) {
	if depth > 200 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			sb.WriteString(t)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "nav", "footer", "svg", "iframe":
			return
		case "title":
			if n.FirstChild != nil && *title == "" {
				*title = n.FirstChild.Data
			}
			return
		case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "ul", "ol":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, title, depth+1)
	}
}

func clean(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(multiSpacePattern.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Chunk splits text into pieces of about tokens tokens (4 characters each) with the
// given fractional overlap between neighbours.
func Chunk(text string, tokens int, overlap float64) []string {
	if tokens <= 0 {
		tokens = 2000
	}
	if overlap < 0 || overlap >= 1 {
		overlap = 0
	}
	runes := []rune(text)
	size := tokens * 4
	if len(runes) <= size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	step := size - int(float64(size)*overlap)
	if step <= 0 {
		step = size
	}
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
