package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gembridge/internal/eventlog"
	"gembridge/internal/launch"
	"gembridge/internal/oneshot"
	"gembridge/internal/rpc"
	"gembridge/internal/session"
	"gembridge/internal/task"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-RPC facade on stdin/stdout",
	Long: `Serve the JSON-RPC facade on stdin/stdout. Diagnostics go to stderr;
stdout carries only protocol frames. The server exits when stdin closes
or on SIGINT/SIGTERM, closing every live session on the way out.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("journal", "", "Append facade calls and task transitions to this NDJSON file")
	serveCmd.Flags().Bool("skip-probe", false, "Skip the startup binary version check")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gembridge", "binary", cfg.Binary, "mode", cfg.Launch.Mode, "pid", os.Getpid())

	if skip, _ := cmd.Flags().GetBool("skip-probe"); !skip {
		version, err := launch.Probe(ctx, cfg.Binary)
		if err != nil {
			return fmt.Errorf("preflight check failed: %w", err)
		}
		logger.Info("binary preflight ok", "version", version)
	}

	launcher := launch.New(launch.Mode(cfg.Launch.Mode), logger)
	timeouts := session.Timeouts{
		Startup:  cfg.StartupTimeout(),
		Exchange: cfg.ExchangeTimeout(),
		Quiet:    cfg.QuietPeriod(),
		Poll:     cfg.PollInterval(),
	}

	registry := session.NewRegistry(cfg.Binary, timeouts, launcher, logger)
	orchestrator := task.New(registry, logger)
	runner := oneshot.New(cfg.Binary, logger)
	server := rpc.NewServer(registry, orchestrator, runner, logger)

	journalPath, _ := cmd.Flags().GetString("journal")
	if journalPath == "" && cfg.Journal.Enabled {
		journalPath = cfg.Journal.Path
	}
	if journalPath != "" {
		journal, err := eventlog.NewEventLog(journalPath, logger)
		if err != nil {
			return err
		}
		defer journal.Close()
		server.SetJournal(journal)
		orchestrator.SetJournal(journal)
		logger.Info("journal enabled", "path", journalPath)
	}

	serveErr := server.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())

	logger.Info("shutting down")
	orchestrator.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	registry.CloseAll(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
