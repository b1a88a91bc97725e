// Package remote holds the HTTP plumbing shared by the outbound API clients
// (search, Perplexity, Apollo).
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shpitdev/leadgen-pipeline/internal/version"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

// maxBody caps response bodies read into memory.
const maxBody = 4 << 20

// Client is a minimal JSON-over-HTTP client bound to one API base URL.
type Client struct {
	base   *url.URL
	http   *http.Client
	header http.Header
}

// NewClient constructs a client for baseURL. Headers are sent with every request.
func NewClient(baseURL string, hc *http.Client, header http.Header) (*Client, error) {
	base, err := ParseBaseURL(baseURL, "api")
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc, err = NewHTTPClient(60*time.Second, "")
		if err != nil {
			return nil, err
		}
	}
	return &Client{base: base, http: hc, header: header.Clone()}, nil
}

// ParseBaseURL normalizes raw into an absolute URL whose path ends with a slash.
func ParseBaseURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s base URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s base URL: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%s base URL must include a host (got %q)", name, raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// NewHTTPClient clones the default transport. caPath optionally replaces the trust store.
func NewHTTPClient(timeout time.Duration, caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse CA bundle: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Request describes one API call.
type Request struct {
	Op     string
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	// Body is JSON-encoded when non-nil.
	Body any
}

// Do sends req and decodes a 2xx JSON response into out (skipped when out is nil).
// Non-2xx responses return *HTTPError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: strings.TrimLeft(req.Path, "/")})
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", req.Op, err)
		}
		body = bytes.NewReader(b)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hreq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Set(k, v)
		}
	}
	hreq.Header.Set("Accept", "application/json")
	if hreq.Header.Get("User-Agent") == "" {
		hreq.Header.Set("User-Agent", version.UserAgent())
	}
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return scrubURLError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return NewHTTPError(req.Op, resp, b)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse %s response: %w", req.Op, err)
	}
	return nil
}

// scrubURLError strips credentials carried in query strings (Google CSE takes its key
// as ?key=) from transport errors, which embed the full request URL.
func scrubURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: redact.Secrets(ue.URL), Err: ue.Err}
	}
	return err
}
