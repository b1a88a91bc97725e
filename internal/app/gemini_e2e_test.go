//go:build gemini_e2e

package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shpitdev/leadgen-pipeline/internal/app"
	"github.com/shpitdev/leadgen-pipeline/internal/leads"
	"github.com/shpitdev/leadgen-pipeline/internal/llm"
	"github.com/shpitdev/leadgen-pipeline/internal/llm/gemini"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

func TestRunLocal_RealGemini_EndToEnd(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		t.Fatalf("GEMINI_MODEL is required for gemini_e2e tests")
	}
	baseURL := os.Getenv("GEMINI_BASE_URL")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	baseDir := t.TempDir()
	if artifactDir := os.Getenv("GEMINI_E2E_ARTIFACT_DIR"); artifactDir != "" {
		if err := os.MkdirAll(artifactDir, 0o755); err != nil {
			t.Fatalf("create GEMINI_E2E_ARTIFACT_DIR: %v", err)
		}
		baseDir = artifactDir
	}

	gen, err := gemini.New(ctx, gemini.Config{APIKey: apiKey, Model: model, BaseURL: baseURL})
	if err != nil {
		t.Fatalf("create gemini generator: %v", err)
	}

	// Synthetic seller profile (public repo); this only checks API and tooling assumptions.
	intake := `{
  "company_info": {"name": "Example Ledger Co", "website": "https://example.com"},
  "product_info": {"name": "Example Ledger", "description": "Cloud bookkeeping for mid-size firms"},
  "ICP": {"industries": ["logistics"], "target_titles": ["CFO", "Controller"], "regions": ["US"]}
}`
	inputPath := filepath.Join(baseDir, "intake.json")
	outputPath := filepath.Join(baseDir, "leads.csv")
	if err := os.WriteFile(inputPath, []byte(intake), 0o644); err != nil {
		t.Fatalf("write intake: %v", err)
	}

	p := app.NewPipeline(app.Single(llm.Throttle(gen, 1, 1)), app.Options{DropZeroScores: true}, nil)
	results, err := app.RunLocal(ctx, inputPath, outputPath, p)
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	for _, out := range results[0].Outputs {
		t.Logf("stage %s: %s", out.Stage, out.Status)
	}

	f, err := os.Open(outputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	got, err := leads.ReadDelimited(f, schema.FormatCSV)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(got) != len(results[0].Leads) {
		t.Fatalf("output has %d leads, result has %d", len(got), len(results[0].Leads))
	}
	t.Logf("wrote %d leads to %s", len(got), outputPath)
}
