package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BenDundee/ravana/internal/config"
	"github.com/BenDundee/ravana/internal/logging"
)

var (
	// Global flags
	verbose bool
	baseDir string
	timeout time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ravana",
	Short: "ravana - agentic executive coach",
	Long: `ravana answers coaching questions with a retrieval-grounded
analyst/critic loop.

Run "ravana serve" to start the HTTP API and "ravana chat" to talk to it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&baseDir, "base", "b", "", "Base directory holding config/, prompts/ and data/ (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(personaCmd)
	rootCmd.AddCommand(promptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration under --base and starts file logging
// as configured by logging.yml.
func loadConfig() (*config.Configurator, error) {
	base := baseDir
	if base == "" {
		var err error
		if base, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.New(base)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Initialize(cfg.LogDirectory(), cfg.Logging().ToLogging()); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	}
	logger.Debug("Configuration loaded",
		zap.String("base", cfg.BaseDir),
		zap.Int("data_files", len(cfg.DataFiles)),
		zap.Strings("agents", cfg.AgentNames()))
	return cfg, nil
}

// commandContext bounds cmd's context by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}
