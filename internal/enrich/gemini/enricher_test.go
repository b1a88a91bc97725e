package gemini

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
)

func TestParseProfile(t *testing.T) {
	t.Parallel()

	p, err := parseProfile(`{"email":" dana@globex.com ","phone":["", "+1 555"],"linkedin_url":"https://linkedin.com/in/dana","confidence":"Low"}`)
	require.NoError(t, err)
	assert.Equal(t, "dana@globex.com", p.Email)
	assert.Equal(t, []string{"+1 555"}, p.Phone)
	assert.Equal(t, "gemini_low", p.EmailStatus)

	_, err = parseProfile("not json")
	require.Error(t, err)
}

func TestExtractSources_DedupesAcrossMetadata(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "https://globex.com/team"}},
			nil,
			{Web: &genai.GroundingChunkWeb{URI: " https://globex.com/team "}},
		}},
		URLContextMetadata: &genai.URLContextMetadata{URLMetadata: []*genai.URLMetadata{
			{RetrievedURL: "https://linkedin.com/in/dana"},
		}},
	}}}

	assert.Equal(t, []string{"https://globex.com/team", "https://linkedin.com/in/dana"}, extractSources(resp))
	assert.Nil(t, extractSources(nil))
}

func TestBuildPrompt_OnlyCarriesQuery(t *testing.T) {
	t.Parallel()

	p := buildPrompt(enrich.Query{Name: "Dana Ruiz", Title: "CFO", Company: "Globex"})
	assert.True(t, strings.HasSuffix(p, "Company: Globex"))
	assert.Contains(t, p, "Name: Dana Ruiz")
}
