package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/leads"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/core"
	localio "github.com/shpitdev/leadgen-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/schema"
)

// RunLocal reads intake payloads from a local JSON file, runs the pipeline once
// per payload and writes every resulting lead to outputPath. The output format
// follows the file extension (.csv, .tsv, .jsonl).
func RunLocal(ctx context.Context, intakePath, outputPath string, p *Pipeline) ([]Result, error) {
	format := schema.NormalizeFormat(filepath.Ext(outputPath))
	p.logger().Info("local run start", zap.String("intake", intakePath), zap.String("output", outputPath))
	return RunBatch(ctx,
		localio.IntakeFile{Path: intakePath},
		localio.TableFile{Path: outputPath, Contract: leads.Contract(format)},
		p,
	)
}

// RunBatch runs the pipeline for every payload in and stores all leads through out
// in one call. Each payload gets its own orchard.
func RunBatch(ctx context.Context, in core.InputAdapter[json.RawMessage], out core.OutputAdapter[[]string], p *Pipeline) ([]Result, error) {
	payloads, err := in.Load(ctx)
	if err != nil {
		return nil, err
	}
	logger := p.logger()

	results := make([]Result, 0, len(payloads))
	var all []leads.Lead
	for i, payload := range payloads {
		store := orchard.New(uuid.NewString())
		res, err := p.Run(ctx, store, string(payload))
		if err != nil {
			return results, fmt.Errorf("intake %d: %w", i, err)
		}
		results = append(results, res)
		all = append(all, res.Leads...)
	}

	if err := out.Store(ctx, leads.Rows(all)); err != nil {
		return results, err
	}
	logger.Info("batch run complete", zap.Int("payloads", len(payloads)), zap.Int("leads", len(all)))
	return results, nil
}
