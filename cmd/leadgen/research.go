package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/config"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/internal/research"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

var (
	researchAgents []string
	researchOutput string
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run the configured research agents without the lead stages",
	Long: `Runs the research agents declared in the pipeline file: each plans search
queries, runs them under the per-minute quota and reads the pages it found. The
shared context (queries, websites, scraped content, quota metrics) is written as
JSON to --output, or stdout.

Example:
  leadgen research --config pipeline.yaml --agent fintech_news --output orchard.json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if len(researchAgents) > 0 {
			cfg.Research = slices.DeleteFunc(cfg.Research, func(ra config.ResearchAgent) bool {
				return !slices.Contains(researchAgents, ra.Name)
			})
		}
		if len(cfg.Research) == 0 {
			return fmt.Errorf("no research agents configured (see the research section of --config)")
		}
		if cfg.DryRun {
			return fmt.Errorf("research needs real search and model backends; drop --dry-run")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config error: %s", redact.Secrets(err.Error()))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		researchers, cleanup, err := buildResearchers(ctx, cfg, newGenerators(cfg, logger), logger)
		if err != nil {
			return err
		}
		defer cleanup()

		store := orchard.New(uuid.NewString())
		reports, runErr := research.RunPhased(ctx, store, researchers...)
		for _, rep := range reports {
			logger.Info("research report",
				zap.String("agent", rep.Agent),
				zap.String("mode", string(rep.Mode)),
				zap.String("message", rep.Message),
			)
		}

		out := cmd.OutOrStdout()
		if researchOutput != "" {
			f, err := os.Create(researchOutput)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(store); err != nil {
			return fmt.Errorf("write orchard: %w", err)
		}
		if runErr != nil {
			return fmt.Errorf("research failed: %s", redact.Secrets(runErr.Error()))
		}
		return nil
	},
}

func init() {
	researchCmd.Flags().StringSliceVar(&researchAgents, "agent", nil, "Only run these research agents (repeatable)")
	researchCmd.Flags().StringVar(&researchOutput, "output", "", "Write the shared context JSON here instead of stdout")
}
