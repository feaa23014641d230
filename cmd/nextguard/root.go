package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/cli"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/secrets"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "nextguard",
	Short: "NextGuard endpoint DLP agent",
	Long: `NextGuard inspects content leaving the endpoint against a signed policy
bundle and records every decision in a tamper-evident audit chain.

  - Pattern and keyword inspection with per-rule severity and action
  - Signed policy bundles synchronized from the management server
  - Hash-chained audit log with batched upload
  - Local status server with health, readiness and Prometheus metrics`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "/etc/nextguard/agent.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the config file with environment overrides and resolves
// ${secret:name} references in credential fields.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err.Error())
	}

	mgr, err := secrets.NewFromConfig(&cfg.Security.Secrets, slog.Default())
	if err != nil {
		return nil, cli.NewConfigError("security.secrets", err.Error())
	}
	if err := config.ResolveSecrets(ctx, cfg, mgr); err != nil {
		return nil, cli.NewConfigError("security.secrets", err.Error())
	}
	return cfg, nil
}

// newLogger builds the configured logger. --verbose lowers the level to
// debug.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lc := logging.FromConfig(cfg.Telemetry.Logging)
	if verbose {
		lc.Level = "debug"
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return logger, nil
}
