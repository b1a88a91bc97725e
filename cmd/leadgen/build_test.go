package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/config"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/internal/search"
	"github.com/shpitdev/leadgen-pipeline/internal/version"
)

func TestDryRunPipeline(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	c := config.Default()
	c.DryRun = true
	c.Pipeline.EmitCSV = true
	c.Research = []config.ResearchAgent{{Name: "news", Goal: "logistics funding"}}
	require.NoError(t, c.Validate())

	gens := newGenerators(c, log)
	p, cleanup, err := buildPipeline(ctx, c, gens, log)
	require.NoError(t, err)
	defer cleanup()
	assert.Empty(t, p.Researchers)
	assert.Nil(t, p.Enricher)

	intake, err := gens.For(ctx, agent.NameIntake)
	require.NoError(t, err)
	payload, err := intake.Generate(ctx, llm.Request{})
	require.NoError(t, err)

	res, err := p.Run(ctx, orchard.New("dry"), payload)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	require.Len(t, res.Leads, 2)
	assert.Equal(t, "Avery Stone", res.Leads[0].Name)
	assert.Contains(t, res.Delimited, "Jordan Lee")
	assert.NotContains(t, res.Delimited, "Sam Ortiz")
}

func TestGeneratorsShareBackends(t *testing.T) {
	c := config.Default()
	c.Perplexity.APIKey = "test-key"
	c.Stages = map[string]config.Stage{
		agent.NameCompanyDiscovery: {Backend: config.BackendPerplexity},
		agent.NamePeopleDiscovery:  {Backend: config.BackendPerplexity},
		agent.NameLeadScoring:      {Backend: config.BackendPerplexity, Model: "sonar-pro"},
	}
	gens := newGenerators(c, zaptest.NewLogger(t))
	ctx := context.Background()

	company, err := gens.For(ctx, agent.NameCompanyDiscovery)
	require.NoError(t, err)
	people, err := gens.For(ctx, agent.NamePeopleDiscovery)
	require.NoError(t, err)
	scoring, err := gens.For(ctx, agent.NameLeadScoring)
	require.NoError(t, err)

	assert.Same(t, company, people)
	assert.NotSame(t, company, scoring)
}

func TestBuildSearcher(t *testing.T) {
	c := config.Default()
	c.Search.Provider = config.ProviderNews
	s, err := buildSearcher(c)
	require.NoError(t, err)
	assert.IsType(t, &search.Cache{}, s)

	c.Search.Provider = config.ProviderGoogle
	_, err = buildSearcher(c)
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Equal(t, version.Current+"\n", out.String())
}
