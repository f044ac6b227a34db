package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labgenie/internal/artifact"
	"labgenie/internal/config"
	"labgenie/internal/errlog"
	"labgenie/internal/fetch"
	"labgenie/internal/pipeline"
)

var (
	outputDir   string
	logDir      string
	providerArg string
	apiKeyArg   string
	strictRun   bool
)

// runCmd executes the pipeline for a single URL
var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Generate a lab from one write-up URL",
	Long: `Fetches the write-up, runs the four generation stages, and writes the
lab bundle to the output directory.

Example:
  labgenie run https://example.com/writeups/cve-2024-1234`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	addPipelineFlags(runCmd)
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory for lab bundles (default from config)")
	cmd.Flags().StringVar(&logDir, "logs", "", "directory for run logs (default from config)")
	cmd.Flags().StringVar(&providerArg, "provider", "", "generation provider: gemini or vertex")
	cmd.Flags().StringVar(&apiKeyArg, "api-key", "", "Gemini API key (overrides GOOGLE_API_KEY)")
	cmd.Flags().BoolVar(&strictRun, "strict", false, "fail the run when a stage returns a partial payload")
}

// loadRunConfig reads the config file and applies flag overrides.
func loadRunConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}
	if strictRun {
		cfg.Strict = true
	}
	return cfg, nil
}

// buildPipeline resolves the provider and wires fetcher, artifact store
// and error sink. Credential problems surface here, before any run starts.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, *errlog.FileSink, error) {
	provider, err := config.ResolveProvider(firstNonEmpty(providerArg, cfg.Provider))
	if err != nil {
		return nil, nil, err
	}
	creds, err := config.LoadCredentials(provider, apiKeyArg, cfg.Location)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("provider resolved", zap.String("provider", string(provider)))

	sink, err := errlog.OpenFile(filepath.Join(cfg.LogDir, "agent_errors.jsonl"))
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.New(pipeline.Options{
		Config:     cfg,
		Fetcher:    fetch.New("", logger.Named("fetch")),
		Store:      artifact.NewStore(cfg.OutputDir, cfg.LogDir, logger.Named("artifact")),
		Sink:       sink,
		Log:        logger.Named("pipeline"),
		NewBackend: pipeline.BackendFactory(creds, logger.Named("backend")),
	})
	if err != nil {
		sink.Close()
		return nil, nil, err
	}
	return p, sink, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}
	p, sink, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		fmt.Println(renderBanner())
	}
	run := p.Execute(ctx, args[0])
	if !quiet {
		fmt.Println(renderSummary(run, debug))
	}

	if run.Status != pipeline.StatusCompleted {
		return fmt.Errorf("run %s failed at stage %s: %w", run.ID, run.FailedStage, run.Err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
