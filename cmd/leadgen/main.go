package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shpitdev/leadgen-pipeline/internal/config"
	"github.com/shpitdev/leadgen-pipeline/internal/version"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

var (
	configPath string
	envFile    string
	verbose    bool
	dryRun     bool

	logger *zap.Logger
	cfg    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "leadgen",
	Short: "Multi-agent sales lead research pipeline",
	Long: `leadgen turns a seller profile (company, product, ideal customer) into a scored
list of leads. Stages discover companies, find people, enrich contact details and
score every lead; optional research agents search the web and read pages first.

Configuration comes from a YAML pipeline file (--config), the environment and a
local .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if cmd == versionCmd {
			return nil
		}

		cfg, err = config.Load(config.LoadOptions{File: configPath, DotEnv: envFile})
		if err != nil {
			return fmt.Errorf("config error: %s", redact.Secrets(err.Error()))
		}
		if cmd.Flags().Changed("dry-run") {
			cfg.DryRun = dryRun
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Current)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML pipeline file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load if present")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Use canned model replies instead of real backends (env: DRY_RUN)")

	rootCmd.AddCommand(serveCmd, runCmd, researchCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, redact.Secrets(err.Error()))
		os.Exit(1)
	}
}
