// Package apollo is an enrich.Enricher backed by the Apollo people-match API.
package apollo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
	"github.com/shpitdev/leadgen-pipeline/internal/remote"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/core"
)

const (
	DefaultBaseURL = "https://api.apollo.io/"
	matchPath      = "api/v1/people/match"

	defaultRetries = 3
	defaultBackoff = 2 * time.Second
	defaultTimeout = 30 * time.Second
)

type Config struct {
	APIKey  string
	BaseURL string
	// MaxRetries bounds retries of 429/5xx and transport timeouts. Defaults to 3.
	MaxRetries int
	// Backoff is the fixed sleep between retries. Defaults to 2s.
	Backoff    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	api     *remote.Client
	retries int
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("APOLLO_API_KEY is required")
	}
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		var err error
		hc, err = remote.NewHTTPClient(defaultTimeout, "")
		if err != nil {
			return nil, err
		}
	}
	header := http.Header{}
	header.Set("x-api-key", strings.TrimSpace(cfg.APIKey))
	header.Set("Cache-Control", "no-cache")
	api, err := remote.NewClient(base, hc, header)
	if err != nil {
		return nil, err
	}

	c := &Client{api: api, retries: cfg.MaxRetries, backoff: cfg.Backoff, sleep: sleepCtx}
	if c.retries <= 0 {
		c.retries = defaultRetries
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	return c, nil
}

type matchResponse struct {
	Person *person `json:"person"`
}

type person struct {
	Email   string `json:"email"`
	Contact *struct {
		Email string `json:"email"`
	} `json:"contact"`
	LinkedInURL    string  `json:"linkedin_url"`
	TwitterURL     string  `json:"twitter_url"`
	GitHubURL      string  `json:"github_url"`
	FacebookURL    string  `json:"facebook_url"`
	EmailStatus    string  `json:"email_status"`
	LikelyToEngage *bool   `json:"is_likely_to_engage"`
	PhoneNumbers   []phone `json:"phone_numbers"`
}

type phone struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number"`
}

// Enrich matches q against Apollo. A person Apollo does not know yields an empty
// profile and no error.
func (c *Client) Enrich(ctx context.Context, q enrich.Query) (enrich.Profile, error) {
	out := enrich.Profile{Backend: "apollo"}
	if strings.TrimSpace(q.Name) == "" {
		return out, errors.New("apollo: empty name")
	}
	query := url.Values{}
	query.Set("name", strings.TrimSpace(q.Name))
	if t := strings.TrimSpace(q.Title); t != "" {
		query.Set("title", t)
	}
	if co := strings.TrimSpace(q.Company); co != "" {
		query.Set("organization_name", co)
	}
	query.Set("reveal_personal_emails", "true")
	query.Set("reveal_personal_number", "false")

	var resp matchResponse
	err := c.withRetry(ctx, func() error {
		resp = matchResponse{}
		return c.api.Do(ctx, remote.Request{
			Op:     "apollo.people_match",
			Method: http.MethodPost,
			Path:   matchPath,
			Query:  query,
		}, &resp)
	})
	if err != nil {
		return out, err
	}
	p := resp.Person
	if p == nil {
		return out, nil
	}

	out.Email = strings.TrimSpace(p.Email)
	if out.Email == "" && p.Contact != nil {
		out.Email = strings.TrimSpace(p.Contact.Email)
	}
	out.LinkedIn = strings.TrimSpace(p.LinkedInURL)
	out.Twitter = strings.TrimSpace(p.TwitterURL)
	out.GitHub = strings.TrimSpace(p.GitHubURL)
	out.Facebook = strings.TrimSpace(p.FacebookURL)
	out.EmailStatus = strings.TrimSpace(p.EmailStatus)
	out.LikelyToEngage = p.LikelyToEngage
	for _, ph := range p.PhoneNumbers {
		n := strings.TrimSpace(ph.SanitizedNumber)
		if n == "" {
			n = strings.TrimSpace(ph.RawNumber)
		}
		if n != "" {
			out.Phone = append(out.Phone, n)
		}
	}
	return out, nil
}

// withRetry retries retryable failures a bounded number of times with a fixed pause.
// The final error is returned unwrapped so outer pools do not retry again.
func (c *Client) withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		if !core.IsTransient(remote.Classify(err)) || attempt >= c.retries {
			return err
		}
		if serr := c.sleep(ctx, c.backoff); serr != nil {
			return serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
