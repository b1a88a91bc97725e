// Package gemini is an enrich.Enricher that asks Gemini, grounded with Google Search
// and URL context, for public contact details.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
	llmgemini "github.com/shpitdev/leadgen-pipeline/internal/llm/gemini"
)

type Config = llmgemini.Config

type Enricher struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Enricher, error) {
	client, err := llmgemini.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Enricher{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

type responseSchema struct {
	Email       string   `json:"email"`
	Phone       []string `json:"phone"`
	LinkedInURL string   `json:"linkedin_url"`
	TwitterURL  string   `json:"twitter_url"`
	GitHubURL   string   `json:"github_url"`
	FacebookURL string   `json:"facebook_url"`
	Confidence  string   `json:"confidence"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"email":        {Type: genai.TypeString},
		"phone":        {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"linkedin_url": {Type: genai.TypeString},
		"twitter_url":  {Type: genai.TypeString},
		"github_url":   {Type: genai.TypeString},
		"facebook_url": {Type: genai.TypeString},
		"confidence":   {Type: genai.TypeString},
	},
	Required: []string{"email", "linkedin_url", "confidence"},
}

func (e *Enricher) Enrich(ctx context.Context, q enrich.Query) (enrich.Profile, error) {
	base := enrich.Profile{Backend: "gemini:" + e.model}
	if strings.TrimSpace(q.Name) == "" {
		return base, errors.New("empty name")
	}

	resp, err := e.client.Models.GenerateContent(
		ctx,
		e.model,
		genai.Text(buildPrompt(q)),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{GoogleSearch: &genai.GoogleSearch{}},
				{URLContext: &genai.URLContext{}},
			},
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return base, llmgemini.Classify(err)
	}

	out, err := parseProfile(resp.Text())
	if err != nil {
		return base, err
	}
	out.Backend = base.Backend
	out.Sources = extractSources(resp)
	return out, nil
}

func parseProfile(text string) (enrich.Profile, error) {
	var parsed responseSchema
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return enrich.Profile{}, fmt.Errorf("gemini: parse structured json: %w", err)
	}
	out := enrich.Profile{
		Email:    strings.TrimSpace(parsed.Email),
		LinkedIn: strings.TrimSpace(parsed.LinkedInURL),
		Twitter:  strings.TrimSpace(parsed.TwitterURL),
		GitHub:   strings.TrimSpace(parsed.GitHubURL),
		Facebook: strings.TrimSpace(parsed.FacebookURL),
	}
	for _, p := range parsed.Phone {
		if p = strings.TrimSpace(p); p != "" {
			out.Phone = append(out.Phone, p)
		}
	}
	// Low-confidence guesses are kept but flagged the way Apollo flags unverified email.
	if c := strings.ToLower(strings.TrimSpace(parsed.Confidence)); c != "" && out.Email != "" {
		out.EmailStatus = "gemini_" + c
	}
	return out, nil
}

func buildPrompt(q enrich.Query) string {
	// Only the name, title and company go out; nothing else about the lead.
	return strings.TrimSpace(`
You are a contact enrichment tool. Use web search and URL context to find public
business contact details for the person below.

Return ONLY a single JSON object with these keys:
- email (string)
- phone (array of strings)
- linkedin_url (string)
- twitter_url (string)
- github_url (string)
- facebook_url (string)
- confidence (string; one of: low, medium, high)

Rules:
- If you cannot find a field, set it to an empty string (or an empty array for phone).
- Never invent an email address from a naming pattern without saying so via confidence=low.
- Do not include extra keys.

Name: ` + q.Name + `
Title: ` + q.Title + `
Company: ` + q.Company + `
`)
}

func extractSources(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	c := resp.Candidates[0]

	var out []string
	if c.GroundingMetadata != nil {
		for _, chunk := range c.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			if strings.TrimSpace(chunk.Web.URI) != "" {
				out = append(out, strings.TrimSpace(chunk.Web.URI))
			}
		}
	}
	if c.URLContextMetadata != nil {
		for _, m := range c.URLContextMetadata.URLMetadata {
			if m == nil {
				continue
			}
			if strings.TrimSpace(m.RetrievedURL) != "" {
				out = append(out, strings.TrimSpace(m.RetrievedURL))
			}
		}
	}
	return dedupePreserveOrder(out)
}

func dedupePreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
