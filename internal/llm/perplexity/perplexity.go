// Package perplexity adapts the Perplexity chat completions API (web-grounded
// answers) to llm.Generator.
package perplexity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/remote"
)

const (
	DefaultBaseURL   = "https://api.perplexity.ai/"
	DefaultModel     = "sonar"
	DefaultMaxTokens = 1000
	DefaultTimeout   = 90 * time.Second
)

type Config struct {
	APIKey    string
	Model     string
	MaxTokens int

	// BaseURL overrides the API host. Useful for proxies/testing.
	BaseURL    string
	HTTPClient *http.Client
}

type Generator struct {
	client    *remote.Client
	model     string
	maxTokens int
}

func New(cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("PERPLEXITY_API_KEY is required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		var err error
		hc, err = remote.NewHTTPClient(DefaultTimeout, "")
		if err != nil {
			return nil, err
		}
	}
	c, err := remote.NewClient(base, hc, http.Header{
		"Authorization": {"Bearer " + strings.TrimSpace(cfg.APIKey)},
	})
	if err != nil {
		return nil, err
	}
	g := &Generator{client: c, model: strings.TrimSpace(cfg.Model), maxTokens: cfg.MaxTokens}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = DefaultMaxTokens
	}
	return g, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webSearchOptions struct {
	SearchContextSize string `json:"search_context_size"`
}

type chatRequest struct {
	Model            string           `json:"model"`
	Messages         []chatMessage    `json:"messages"`
	MaxTokens        int              `json:"max_tokens"`
	WebSearchOptions webSearchOptions `json:"web_search_options"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (g *Generator) Generate(ctx context.Context, req llm.Request) (string, error) {
	body := chatRequest{
		Model:            g.model,
		MaxTokens:        g.maxTokens,
		WebSearchOptions: webSearchOptions{SearchContextSize: "high"},
	}
	if strings.TrimSpace(req.System) != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}
		body.Messages = append(body.Messages, chatMessage{Role: role, Content: m.Text})
	}

	var resp chatResponse
	err := g.client.Do(ctx, remote.Request{
		Op:     "perplexity.chat",
		Method: http.MethodPost,
		Path:   "chat/completions",
		Body:   body,
	}, &resp)
	if err != nil {
		return "", remote.Classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", llm.ErrEmptyReply
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
