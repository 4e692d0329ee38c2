package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/g960059/riskdesk/internal/config"
	"github.com/g960059/riskdesk/internal/daemon"
	"github.com/g960059/riskdesk/internal/db"
	"github.com/g960059/riskdesk/internal/logging"
	"github.com/g960059/riskdesk/internal/shell"
	"github.com/g960059/riskdesk/internal/telemetry"
)

type flags struct {
	configPath string
	socket     string
	dbPath     string
	logLevel   string
	tracing    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "riskdeskd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "riskdeskd",
		Short:         "Run the riskdesk page shell daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", os.Getenv("RISKDESK_CONFIG"), "YAML config file")
	cmd.Flags().StringVar(&f.socket, "socket", "", "UDS path for riskdeskd")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite session store path")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error")
	cmd.Flags().BoolVar(&f.tracing, "trace", false, "export spans to stderr")
	return cmd
}

// resolveConfig loads the config file and applies explicitly set flags on top.
func resolveConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("socket") {
		cfg.SocketPath = f.socket
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = f.dbPath
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("trace") {
		cfg.Tracing = f.tracing
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "riskdeskd"})

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Tracing,
		ServiceName:    "riskdeskd",
		ServiceVersion: config.Version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush spans failed", "error", err)
		}
	}()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		return err
	}

	app, err := shell.New(shell.Options{Config: cfg, Store: store, Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()

	ready, err := app.Bootstrap(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shell bootstrapped", "ready", ready, "status", app.State().Status)
	startRetentionLoop(ctx, app, logger, retentionInterval(cfg.SessionIdle))

	srv := daemon.NewServer(cfg, app, logger)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startRetentionLoop drops session storage that has been idle past the
// configured TTL.
func startRetentionLoop(ctx context.Context, app *shell.App, logger *slog.Logger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := app.PurgeIdleSessions(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Warn("session retention purge failed", "error", err)
					}
					continue
				}
				if n > 0 {
					logger.Info("purged idle sessions", "count", n)
				}
			}
		}
	}()
}

func retentionInterval(idle time.Duration) time.Duration {
	interval := idle / 4
	if interval < time.Minute {
		return time.Minute
	}
	if interval > time.Hour {
		return time.Hour
	}
	return interval
}
