package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gembridge/internal/config"
)

const configFileName = "gembridge.yaml"

var rootCmd = &cobra.Command{
	Use:   "gembridge",
	Short: "Request/response bridge for the interactive Gemini CLI",
	Long: `gembridge wraps the interactive Gemini CLI as a request/response API.
It keeps persistent CLI sessions alive behind a JSON-RPC stdio facade,
runs exchanges as pollable background tasks, and surfaces interactive
prompts so callers can answer them.

Running 'gembridge' without a subcommand is equivalent to 'gembridge serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(probeCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to gembridge.yaml (default: search up directory tree)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().String("binary", "", "Wrapped CLI command (overrides config)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the configuration for a command invocation: an
// explicit --config path, else the nearest gembridge.yaml up the tree,
// else defaults. Flag overrides are applied before validation.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	switch {
	case path != "":
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	default:
		if found, ok := findConfig(); ok {
			cfg, err = config.LoadFromFile(found)
			if err != nil {
				return nil, err
			}
		} else {
			cfg = config.Default()
		}
	}

	if binary, _ := cmd.Flags().GetString("binary"); binary != "" {
		cfg.Binary = binary
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfig searches the working directory and its ancestors for a
// config file.
func findConfig() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// newLogger builds the diagnostic logger. Logs always go to stderr so
// stdout stays clean for protocol frames.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
