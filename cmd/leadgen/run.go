package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/app"
	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
	"github.com/shpitdev/leadgen-pipeline/internal/research"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

var (
	runInput  string
	runOutput string
	runMode   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once per intake payload in a local file",
	Long: `Reads intake payloads from a JSON file (one object or an array of objects with
company_info, product_info and ICP), runs the pipeline for each and writes every
lead to --output. The output format follows the extension: .csv, .tsv or .jsonl.

Example:
  leadgen run --input intake.json --output leads.csv`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runInput == "" || runOutput == "" {
			return fmt.Errorf("run requires --input and --output")
		}
		if runMode != "" {
			cfg.Pipeline.Mode = runMode
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config error: %s", redact.Secrets(err.Error()))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pipeline, cleanup, err := buildPipeline(ctx, cfg, newGenerators(cfg, logger), logger)
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := app.RunLocal(ctx, runInput, runOutput, pipeline)
		if err != nil {
			return fmt.Errorf("local run failed: %s", redact.Secrets(err.Error()))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, res := range results {
			logger.Info("run summary",
				zap.String("run", res.RunID),
				zap.Int("rounds", res.Rounds),
				zap.Int("leads", len(res.Leads)),
				zap.Bool("complete", res.Complete),
			)
			if err := enc.Encode(summary(res)); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "Intake JSON file")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Leads output file (.csv, .tsv, .jsonl)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "sequential or group_chat (env: PIPELINE_MODE)")
}

type runSummary struct {
	RunID    string            `json:"run_id"`
	Rounds   int               `json:"rounds"`
	Leads    int               `json:"leads"`
	Complete bool              `json:"complete"`
	Stages   map[string]string `json:"stages"`
	Enrich   enrich.Stats      `json:"enrich"`
	Research []research.Report `json:"research,omitempty"`
}

func summary(res app.Result) runSummary {
	s := runSummary{
		RunID:    res.RunID,
		Rounds:   res.Rounds,
		Leads:    len(res.Leads),
		Complete: res.Complete,
		Stages:   make(map[string]string, len(res.Outputs)),
		Enrich:   res.EnrichStats,
		Research: res.Research,
	}
	for _, out := range res.Outputs {
		s.Stages[out.Stage] = out.Status.String()
	}
	return s
}
