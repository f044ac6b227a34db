package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	cfgPath string
	debug   bool
	quiet   bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "labgenie",
	Short: "labgenie - turn vulnerability write-ups into runnable labs",
	Long: `labgenie turns a vulnerability write-up URL into a runnable lab bundle.

Four generation stages run in sequence:
  1. Validate and clean the write-up content
  2. Extract a structured vulnerability record
  3. Plan a self-contained lab environment
  4. Generate the lab files, Dockerfile and compose config

Provider selection: --provider, then LABGENIE_PROVIDER, then auto-detect
(GOOGLE_CLOUD_PROJECT selects Vertex AI, GOOGLE_API_KEY the Gemini API).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if debug {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else if quiet {
			config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "labgenie.yaml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging plus raw payload excerpts on failure")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "errors only, no banner or summary")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
