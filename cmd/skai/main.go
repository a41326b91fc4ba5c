// Package main implements the skai command line interface for generating
// machine learning examples from pre- and post-disaster satellite imagery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/canlilar/skai/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	verbose    bool
	logJSON    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "skai",
	Short: "skai - building damage assessment dataset pipeline",
	Long: `skai turns pre- and post-disaster satellite imagery into labeled
machine learning examples for building damage assessment.

Typical flow:
  1. skai generate   - extract aligned before/after patches for every building
  2. (label the sampled labeling images externally)
  3. skai merge      - join annotations back into labeled train/test shards
  4. skai stats      - inspect the resulting dataset`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if !logJSON {
			zcfg.Encoding = "console"
			zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if lvl := cfg.Logging.Level; lvl != "" && !verbose {
			var l zapcore.Level
			if err := l.UnmarshalText([]byte(lvl)); err != nil {
				return fmt.Errorf("invalid logging.level %q: %w", lvl, err)
			}
			zcfg.Level.SetLevel(l)
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "skai.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")

	generateCmd.Flags().IntVar(&generateWorkers, "workers", 0, "Override pipeline.workers")
	mergeCmd.Flags().BoolVar(&mergeWatch, "watch", false, "Keep watching the annotation directory and re-merge on change")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(statsCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
