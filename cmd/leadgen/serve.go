package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/app"
	"github.com/shpitdev/leadgen-pipeline/internal/server"
	"github.com/shpitdev/leadgen-pipeline/internal/version"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

const shutdownGrace = 30 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API",
	Long: `Serves the chat API:

  POST /chat         {"message": "..."} -> {"response": "...", "complete": bool}
  POST /new_session  reset the caller's conversation and results
  GET  /results      {"results": "..."} once the pipeline finished
  GET  /export       CSV/TSV of the final leads (pipeline.emit_csv)
  GET  /orchard      shared context snapshot of the last run
  GET  /healthz

Sessions are keyed by the X-Session-ID header, falling back to User-Agent.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (env: LEADGEN_ADDR, default :8000)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config error: %s", redact.Secrets(err.Error()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gens := newGenerators(cfg, logger)
	pipeline, cleanup, err := buildPipeline(ctx, cfg, gens, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	intakeGen, err := gens.For(ctx, agent.NameIntake)
	if err != nil {
		return err
	}
	history, err := agent.NewHistory(cfg.Pipeline.SessionCacheSize)
	if err != nil {
		return err
	}
	sessions, err := app.NewSessions(cfg.Pipeline.SessionCacheSize)
	if err != nil {
		return err
	}
	svc := app.NewService(agent.NewIntake(intakeGen, history, logger.Named("intake")), pipeline, sessions, logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(server.New(svc, logger.Named("http")).Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("version", version.Current),
			zap.String("mode", cfg.Pipeline.Mode),
			zap.Bool("dryRun", cfg.DryRun),
			zap.Int("researchAgents", len(pipeline.Researchers)),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pipeline runs cancelled at shutdown", zap.Error(err))
	}
	return nil
}
