package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/agent"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/cli"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

var scanFlags struct {
	channel  string
	format   string
	progress bool
}

var scanCmd = &cobra.Command{
	Use:   "scan FILE...",
	Short: "Scan files against the installed policy",
	Long: `Scan one or more files with the installed policy bundle and print the
decision for each. Decisions are recorded in the audit chain and queued
for upload exactly as they are for the running agent, and block
decisions quarantine the content when quarantine is enabled.

The command opens the agent's data directory directly. Do not run it
while the agent daemon is using the same data directory.

Exit Codes:
  0 - All files allowed
  1 - At least one file was blocked, or an error occurred

Examples:
  # Scan a file as a file-channel transfer
  nextguard scan report.xlsx

  # Scan as a USB copy and print JSON
  nextguard scan --channel usb --format json export.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanFlags.channel, "channel", string(policy.ChannelFile), "channel the content travels on")
	scanCmd.Flags().StringVar(&scanFlags.format, "format", "text", "output format: text, json")
	scanCmd.Flags().BoolVar(&scanFlags.progress, "progress", false, "report progress while scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	channel := policy.Channel(scanFlags.channel)
	if !channel.Valid() {
		return cli.NewCommandError("scan", fmt.Errorf("unknown channel %q", scanFlags.channel))
	}
	if scanFlags.format != "text" && scanFlags.format != "json" {
		return cli.NewCommandError("scan", fmt.Errorf("unsupported format %q", scanFlags.format))
	}

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ag, err := agent.New(cfg, nil, logger)
	if err != nil {
		return cli.NewCommandError("scan", err)
	}
	defer func() { _ = ag.Close() }()

	var progress cli.ProgressReporter
	if scanFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr())
		progress.Start(int64(len(args)))
	}

	results := make([]policy.ScanResult, 0, len(args))
	blocked := 0
	for i, path := range args {
		res := ag.ScanFile(ctx, path, channel, policy.Metadata{})
		if res.Action == policy.ActionBlock {
			blocked++
		}
		results = append(results, res)
		if progress != nil {
			if res.Unscanned {
				progress.Error(fmt.Errorf("%s: %s", path, res.ScanError))
			}
			progress.Update(int64(i + 1))
		}
	}
	if progress != nil {
		progress.Finish()
	}

	out := cmd.OutOrStdout()
	if scanFlags.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printScanResults(out, results)
	}

	if blocked > 0 {
		return cli.NewCommandError("scan", fmt.Errorf("%d of %d files blocked", blocked, len(args)))
	}
	return nil
}

func printScanResults(w io.Writer, results []policy.ScanResult) {
	for _, r := range results {
		status := r.Action.String()
		switch {
		case r.Unscanned:
			status = "unscanned"
		case r.Truncated:
			status += " (truncated)"
		}
		fmt.Fprintf(w, "%s: %s risk=%s/%d policy=v%d\n", r.ContentID, status, r.RiskLevel, r.RiskScore, r.PolicyVersion)
		if r.Unscanned {
			fmt.Fprintf(w, "  error: %s\n", r.ScanError)
			continue
		}
		for _, m := range r.Matches {
			fmt.Fprintf(w, "  - %s [%s] %s x%d", m.RuleID, m.Severity, m.Action, m.Count)
			if m.RuleName != "" {
				fmt.Fprintf(w, " %q", m.RuleName)
			}
			fmt.Fprintln(w)
		}
	}
}
