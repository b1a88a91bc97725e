package app_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shpitdev/leadgen-pipeline/internal/app"
	"github.com/shpitdev/leadgen-pipeline/internal/enrich/apollo"
	"github.com/shpitdev/leadgen-pipeline/internal/leads"
	"github.com/shpitdev/leadgen-pipeline/internal/llm/perplexity"
	"github.com/shpitdev/leadgen-pipeline/internal/mockapi"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

func TestRunLocal_AgainstMockAPIs(t *testing.T) {
	t.Parallel()

	mock := mockapi.New()
	mock.RequireKey("test-key")
	mock.QueueChat(companiesReply, peopleReply, enrichedReply, scoredReply)
	mock.AddPerson("Dana Ruiz", mockapi.Person{LinkedInURL: "https://linkedin.example/dana"})
	srv := httptest.NewServer(mock.Handler())
	t.Cleanup(srv.Close)

	gen, err := perplexity.New(perplexity.Config{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	enricher, err := apollo.New(apollo.Config{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	p := app.NewPipeline(app.Single(gen), app.Options{DropZeroScores: true}, zaptest.NewLogger(t))
	p.Enricher = enricher

	dir := t.TempDir()
	intakePath := filepath.Join(dir, "intake.json")
	outputPath := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(intakePath, []byte(intakePayload), 0o644))

	results, err := app.RunLocal(context.Background(), intakePath, outputPath, p)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Complete)
	assert.Equal(t, 2, results[0].EnrichStats.Attempted)

	assert.Equal(t, 4, mock.CallsTo(mockapi.PathChat))
	assert.Equal(t, 2, mock.CallsTo(mockapi.PathPeopleMatch))

	f, err := os.Open(outputPath)
	require.NoError(t, err)
	defer f.Close()
	got, err := leads.ReadDelimited(f, schema.FormatCSV)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Dana Ruiz", got[0].Name)
	assert.Equal(t, "Bill Lumbergh", got[1].Name)
}

func TestRunLocal_MissingIntakeFile(t *testing.T) {
	t.Parallel()

	p := app.NewPipeline(happyGens().gens(), app.Options{}, nil)
	dir := t.TempDir()
	_, err := app.RunLocal(context.Background(), filepath.Join(dir, "nope.json"), filepath.Join(dir, "out.csv"), p)
	require.Error(t, err)
}
