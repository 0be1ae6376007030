package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/zenflow/internal/config"
)

var version = "dev"

var (
	noColor  bool
	logJSON  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "zenflow",
	Short:         "Yoga flow recommendations that fit how busy your day is",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides log.level")

	rootCmd.AddCommand(
		analyzeCmd,
		scoreCmd,
		sessionCmd,
		usageCmd,
		themeCmd,
		calendarCmd,
		feedbackCmd,
		configCmd,
		serveCmd,
		stopCmd,
		statusCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	setupLogging(os.Stderr, cfg.SlogLevel())
	return cfg, nil
}

func setupLogging(w io.Writer, level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if logJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
