package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit/export"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit/query"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/cli"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

var auditFlags struct {
	dir         string
	timeRange   string
	category    string
	minSeverity string
	outcome     string
	actor       string
	rule        string
	limit       int
	offset      int
	order       string
	format      string
	output      string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the local audit chain",
	Long: `Verify, query and export the hash-chained audit log.

Subcommands:
  verify - Replay the chain and check every link and body hash
  query  - Query records with filters
  export - Export records as JSON, JSON lines or CSV`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit chain",
	Long: `Replay every segment of the audit chain with the key derived from the
agent's master key. Verification stops at the first broken record and
reports its segment and line.

Examples:
  nextguard audit verify
  nextguard audit verify --dir /var/lib/nextguard/audit`,
	RunE: verifyAudit,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit records",
	Long: `Query audit records with filters.

Time Range Format:
  RFC3339 interval format: "start/end"
  Example: "2026-03-01T00:00:00Z/2026-03-02T00:00:00Z"

Examples:
  # Last 100 blocked scans
  nextguard audit query --category dlp.scan --outcome block

  # Records that matched a rule, oldest first
  nextguard audit query --rule builtin-credit-card --order asc

  # High severity and above as JSON
  nextguard audit query --min-severity high --format json`,
	RunE: queryAudit,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records",
	Long: `Export audit records in chain order.

Examples:
  nextguard audit export --format csv -o audit.csv
  nextguard audit export --format jsonl --time-range "2026-03-01T00:00:00Z/2026-03-02T00:00:00Z"`,
	RunE: exportAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditQueryCmd, auditExportCmd)

	auditCmd.PersistentFlags().StringVar(&auditFlags.dir, "dir", "", "audit directory (default: audit.dir)")

	for _, c := range []*cobra.Command{auditQueryCmd, auditExportCmd} {
		c.Flags().StringVar(&auditFlags.timeRange, "time-range", "", "time range (RFC3339 interval: start/end)")
		c.Flags().StringVar(&auditFlags.category, "category", "", "filter by category (dlp.scan, dlp.unscanned, config.change, ...)")
		c.Flags().StringVar(&auditFlags.minSeverity, "min-severity", "", "minimum severity (info, low, medium, high, critical)")
		c.Flags().StringVar(&auditFlags.outcome, "outcome", "", "filter by outcome")
		c.Flags().StringVar(&auditFlags.actor, "actor", "", "filter by actor")
		c.Flags().StringVar(&auditFlags.rule, "rule", "", "filter by matched rule id")
		c.Flags().StringVarP(&auditFlags.output, "output", "o", "", "output file (default: stdout)")
	}
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", query.DefaultLimit, "max results")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "pagination offset")
	auditQueryCmd.Flags().StringVar(&auditFlags.order, "order", "desc", "sort order: asc, desc")
	auditQueryCmd.Flags().StringVar(&auditFlags.format, "format", "text", "output format: text, json, jsonl, csv")
	auditExportCmd.Flags().StringVar(&auditFlags.format, "format", "json", "output format: json, jsonl, csv")
}

// auditDir returns --dir or, when unset, audit.dir from the config.
func auditDir(cmd *cobra.Command) (string, *config.Config, error) {
	if auditFlags.dir != "" {
		return auditFlags.dir, nil, nil
	}
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return "", nil, err
	}
	return cfg.Audit.Dir, cfg, nil
}

// auditKey derives the chain key from an existing master key. It never
// creates one: a fresh key would make every record look tampered.
func auditKey(path string) ([]byte, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("master key not available: %w", err)
	}
	master, err := keys.LoadOrCreateMasterKey(path)
	if err != nil {
		return nil, err
	}
	defer keys.Zero(master)
	return keys.DeriveKey(master, keys.PurposeAuditChain)
}

func verifyAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	dir := auditFlags.dir
	if dir == "" {
		dir = cfg.Audit.Dir
	}

	key, err := auditKey(cfg.Agent.MasterKeyPath)
	if err != nil {
		return cli.NewCommandError("audit verify", err)
	}
	defer keys.Zero(key)

	res := audit.VerifyDir(dir, key)
	out := cmd.OutOrStdout()
	if !res.Valid {
		fmt.Fprintf(out, "✗ Audit chain broken in %s line %d: %s\n", res.Segment, res.ErrorLine, res.Error)
		fmt.Fprintf(out, "  %d records in %d segments verified before the failure\n", res.Records, res.Segments)
		return cli.NewCommandError("audit verify", errors.New("audit chain verification failed"))
	}

	fmt.Fprintf(out, "✓ Audit chain intact: %d records in %d segments", res.Records, res.Segments)
	if res.Records > 0 {
		fmt.Fprintf(out, " (ids %d-%d)", res.FirstID, res.LastID)
	}
	fmt.Fprintln(out)
	return nil
}

// buildQuery converts the filter flags.
func buildQuery() (*query.Query, error) {
	q := &query.Query{
		Category: audit.Category(auditFlags.category),
		Outcome:  auditFlags.outcome,
		Actor:    auditFlags.actor,
		RuleID:   auditFlags.rule,
	}
	if auditFlags.timeRange != "" {
		start, end, err := parseTimeRange(auditFlags.timeRange)
		if err != nil {
			return nil, err
		}
		q.StartTime, q.EndTime = &start, &end
	}
	if auditFlags.minSeverity != "" {
		sev, err := policy.ParseSeverity(auditFlags.minSeverity)
		if err != nil {
			return nil, err
		}
		q.MinSeverity = &sev
	}
	return q, nil
}

func parseTimeRange(v string) (time.Time, time.Time, error) {
	startStr, endStr, ok := strings.Cut(v, "/")
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid time range %q: expected start/end", v)
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}
	return start, end, nil
}

// openOutput returns stdout or the --output file.
func openOutput(cmd *cobra.Command) (io.Writer, func() error, error) {
	if auditFlags.output == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	// #nosec G304 - operator supplied output path
	f, err := os.OpenFile(auditFlags.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func queryAudit(cmd *cobra.Command, args []string) error {
	dir, _, err := auditDir(cmd)
	if err != nil {
		return err
	}
	q, err := buildQuery()
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	q.Limit, q.Offset, q.SortOrder = auditFlags.limit, auditFlags.offset, auditFlags.order

	records, err := query.Run(cmd.Context(), dir, q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}

	w, closeFn, err := openOutput(cmd)
	if err != nil {
		return err
	}
	if auditFlags.format == string(cli.FormatText) {
		printRecords(w, records)
		return closeFn()
	}
	if err := writeExport(cmd, w, records); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func exportAudit(cmd *cobra.Command, args []string) error {
	dir, _, err := auditDir(cmd)
	if err != nil {
		return err
	}
	q, err := buildQuery()
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}
	q.Limit, q.SortOrder = query.MaxLimit, "asc"

	w, closeFn, err := openOutput(cmd)
	if err != nil {
		return err
	}

	// Pages through the whole log in MaxLimit windows.
	var all []audit.Record
	for {
		records, err := query.Run(cmd.Context(), dir, q)
		if err != nil {
			_ = closeFn()
			return cli.NewCommandError("audit export", err)
		}
		all = append(all, records...)
		if len(records) < q.Limit {
			break
		}
		q.Offset += len(records)
	}

	if err := writeExport(cmd, w, all); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func writeExport(cmd *cobra.Command, w io.Writer, records []audit.Record) error {
	exp, err := export.New(auditFlags.format)
	if err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}
	if err := exp.Export(cmd.Context(), records, w); err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}
	return nil
}

func printRecords(w io.Writer, records []audit.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found")
		return
	}
	fmt.Fprintf(w, "%-8s %-20s %-16s %-9s %-12s %s\n", "ID", "TIME", "CATEGORY", "SEVERITY", "OUTCOME", "DESCRIPTION")
	for _, r := range records {
		fmt.Fprintf(w, "%-8d %-20s %-16s %-9s %-12s %s\n",
			r.ID,
			r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			r.Category,
			r.Severity,
			r.Outcome,
			r.Description,
		)
	}
	fmt.Fprintf(w, "\n%d records\n", len(records))
}
