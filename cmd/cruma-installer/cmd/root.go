package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/cruma-installer/internal/config"
	"github.com/oshokin/cruma-installer/internal/logger"
	"github.com/oshokin/cruma-installer/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the level from settings.
	logLevel string
	// logFile overrides the rotating log file from settings.
	logFile string

	// settings are loaded once before any subcommand runs.
	settings *config.Config

	// exitCode is set by subcommands that report outcomes through the process status.
	exitCode int

	// rootCmd represents the base command when called without any subcommands.
	rootCmd = &cobra.Command{
		Use:           version.Product,
		Short:         "Install the cruma agent from a published release",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadSettings()
		},
	}
)

// errUnknownLogLevel is returned for a --log-level zap does not know.
var errUnknownLogLevel = errors.New("unknown log level")

// Execute runs the cruma-installer CLI and exits with the status of the command.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		logger.Error(ctx, err)
		os.Exit(1)
	}

	os.Exit(exitCode)
}

// loadSettings reads the settings file, applies flag overrides and configures logging.
func loadSettings() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if logFile != "" {
		cfg.LogFile = logFile
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("%q: %w", cfg.LogLevel, errUnknownLogLevel)
	}

	logger.SetLogger(logger.NewWithFile(logger.AtomicLevel(), cfg.LogFile))
	logger.SetLevel(level)

	settings = cfg

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "",
		"path to configuration file (default "+config.DefaultConfigFilename+" if present)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this rotating file")
}
