package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/agent"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/cli"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/server"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/metrics"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent",
	Long: `Run the agent until SIGINT or SIGTERM.

The agent loads the cached policy bundle (or the built-in defaults), starts
policy sync, audit upload, retention and the policy import watcher when
they are enabled, and serves the local status server.

Examples:
  # Start with the default config
  nextguard run

  # Start with a custom config
  nextguard run --config ./agent.yaml

  # Override the status server address
  nextguard run --listen 127.0.0.1:9500

  # Validate the config without starting
  nextguard run --dry-run`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override status server listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the agent")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := cli.SetupSignalHandler()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
	}

	a, err := agent.New(cfg, collector, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close agent", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	logger.Info("agent running",
		"version", Version,
		"config", cfgFile,
		"device_id", a.DeviceID(),
		"policy_version", a.CurrentPolicyVersion(),
	)

	if !cfg.Server.Enabled {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	srv, err := server.New(cfg, a, a.Health(), collector, server.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return cli.NewCommandError("run", err)
	}
	return nil
}
