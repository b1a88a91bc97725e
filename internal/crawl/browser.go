package crawl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserFetcher renders pages in headless Chrome before extracting text. The
// browser is started on first use and shared; each fetch gets its own incognito
// context.
type BrowserFetcher struct {
	// ControlURL connects to a running browser. Empty launches a local headless one.
	ControlURL string
	Timeout    time.Duration

	mu      sync.Mutex
	browser *rod.Browser
}

func NewBrowserFetcher(controlURL string, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserFetcher{ControlURL: strings.TrimSpace(controlURL), Timeout: timeout}
}

func (b *BrowserFetcher) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	controlURL := b.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Headless(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = browser
	return browser, nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	browser, err := b.ensure()
	if err != nil {
		return Page{}, err
	}
	incognito, err := browser.Incognito()
	if err != nil {
		return Page{}, fmt.Errorf("incognito context: %w", err)
	}
	defer func() {
		_ = incognito.Close()
	}()

	page, err := incognito.Context(ctx).Timeout(b.Timeout).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Page{}, fmt.Errorf("open %s: %w", url, err)
	}
	defer func() {
		_ = page.Close()
	}()
	if err := page.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("load %s: %w", url, err)
	}
	doc, err := page.HTML()
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", url, err)
	}
	title, text, err := ExtractText(strings.NewReader(doc))
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	return Page{URL: url, Title: title, Text: text}, nil
}

// Close shuts the browser down if this fetcher started or connected to one.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
