package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/cli"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/engine"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/store"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

var policyFlags struct {
	rules     string
	key       string
	publicKey string
	version   int64
	output    string
	format    string
}

// RulesFile is the YAML source a bundle is signed from.
//
//	version: 8
//	policies:
//	  - id: project-falcon
//	    name: Project Falcon codename
//	    keywords: [falcon]
//	    severity: medium
//	    action: notify
//	    enabled: true
type RulesFile struct {
	Version  int64         `yaml:"version"`
	Policies []policy.Rule `yaml:"policies"`
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Author and inspect policy bundles",
	Long: `Author, sign and inspect policy bundles.

Subcommands:
  lint   - Validate a YAML rules file
  sign   - Sign a YAML rules file into a wire-format bundle
  verify - Verify a bundle's signature
  show   - Show the bundle the agent would load`,
}

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate a rules file",
	Long: `Validate a YAML rules file: rule fields, unique ids and that every
pattern compiles.

Examples:
  nextguard policy lint --rules rules.yaml`,
	RunE: lintPolicy,
}

var policySignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a rules file into a bundle",
	Long: `Sign a YAML rules file with an Ed25519 private key and write the bundle
in wire format. Agents only install bundles whose version is higher than
the one they run.

Examples:
  nextguard policy sign --rules rules.yaml --key policy.key -o bundle.json
  nextguard policy sign --rules rules.yaml --key policy.key --version 9 -o /var/lib/nextguard/import/bundle.json`,
	RunE: signPolicy,
}

var policyVerifyCmd = &cobra.Command{
	Use:   "verify [bundle-file]",
	Short: "Verify a bundle signature",
	Args:  cobra.ExactArgs(1),
	RunE:  verifyPolicy,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active policy bundle",
	Long: `Show the bundle the agent loads at startup: the verified cached bundle,
or the built-in defaults.`,
	RunE: showPolicy,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyLintCmd, policySignCmd, policyVerifyCmd, policyShowCmd)

	policyLintCmd.Flags().StringVar(&policyFlags.rules, "rules", "rules.yaml", "YAML rules file")

	policySignCmd.Flags().StringVar(&policyFlags.rules, "rules", "rules.yaml", "YAML rules file")
	policySignCmd.Flags().StringVar(&policyFlags.key, "key", "", "Ed25519 private key (PEM)")
	policySignCmd.Flags().Int64Var(&policyFlags.version, "version", 0, "bundle version (overrides the rules file)")
	policySignCmd.Flags().StringVarP(&policyFlags.output, "output", "o", "", "output file (default: stdout)")
	_ = policySignCmd.MarkFlagRequired("key")

	policyVerifyCmd.Flags().StringVar(&policyFlags.publicKey, "public-key", "", "Ed25519 public key (default: policy.public_key_path)")

	policyShowCmd.Flags().StringVar(&policyFlags.format, "format", "text", "output format: text, json, csv")
}

func loadRulesFile(path string) (*policy.Bundle, error) {
	// #nosec G304 - operator supplied rules path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return &policy.Bundle{Version: rf.Version, Rules: rf.Policies}, nil
}

// checkPatterns compiles every pattern the way the engine does and returns
// one error per pattern that fails.
func checkPatterns(rules []policy.Rule) []error {
	cache := engine.NewPatternCache(slog.Default())
	var errs []error
	for _, r := range rules {
		for _, p := range r.Patterns {
			if _, err := cache.Get(p); err != nil {
				errs = append(errs, fmt.Errorf("rule %q: %w", r.ID, err))
			}
		}
	}
	return errs
}

func lintPolicy(cmd *cobra.Command, args []string) error {
	b, err := loadRulesFile(policyFlags.rules)
	if err != nil {
		return err
	}
	if b.Version == 0 {
		// Version is usually set at signing time.
		b.Version = 1
	}
	if err := b.Validate(); err != nil {
		return cli.NewCommandError("policy lint", err)
	}
	if errs := checkPatterns(b.Rules); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", e)
		}
		return cli.NewCommandError("policy lint", fmt.Errorf("%d invalid patterns", len(errs)))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d rules valid\n", policyFlags.rules, len(b.Rules))
	return nil
}

func signPolicy(cmd *cobra.Command, args []string) error {
	b, err := loadRulesFile(policyFlags.rules)
	if err != nil {
		return err
	}
	if policyFlags.version > 0 {
		b.Version = policyFlags.version
	}
	b.IssuedAt = time.Now().UTC().Truncate(time.Second)

	if err := b.Validate(); err != nil {
		return cli.NewCommandError("policy sign", err)
	}
	if errs := checkPatterns(b.Rules); len(errs) > 0 {
		return cli.NewCommandError("policy sign", errs[0])
	}

	signer, err := keys.LoadPrivateKey(policyFlags.key)
	if err != nil {
		return cli.NewCommandError("policy sign", err)
	}
	if err := b.Sign(signer); err != nil {
		return cli.NewCommandError("policy sign", err)
	}

	data, err := policy.EncodeBundle(b)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if policyFlags.output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	// #nosec G306 - bundles are signed public documents
	if err := os.WriteFile(policyFlags.output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Bundle version %d with %d rules written to %s\n", b.Version, len(b.Rules), policyFlags.output)
	return nil
}

func verifyPolicy(cmd *cobra.Command, args []string) error {
	pubPath := policyFlags.publicKey
	if pubPath == "" {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		pubPath = cfg.Policy.PublicKeyPath
	}
	verifier, err := keys.LoadPublicKey(pubPath)
	if err != nil {
		return cli.NewCommandError("policy verify", err)
	}

	// #nosec G304 - operator supplied bundle path
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	b, err := policy.DecodeBundle(data)
	if err != nil {
		return cli.NewCommandError("policy verify", err)
	}
	if err := b.Validate(); err != nil {
		return cli.NewCommandError("policy verify", err)
	}
	if err := b.VerifySignature(verifier); err != nil {
		return cli.NewCommandError("policy verify", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Bundle version %d with %d rules has a valid signature\n", b.Version, len(b.Rules))
	return nil
}

func showPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	verifier, err := keys.LoadPublicKey(cfg.Policy.PublicKeyPath)
	if err != nil {
		return cli.NewCommandError("policy show", err)
	}
	st, err := store.Open(store.Config{
		CachePath: cfg.Policy.CachePath,
		Verifier:  verifier,
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		return cli.NewCommandError("policy show", err)
	}
	b := st.Current()

	out := cmd.OutOrStdout()
	if policyFlags.format == string(cli.FormatJSON) {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(out, struct {
			Origin store.Origin   `json:"origin"`
			Bundle *policy.Bundle `json:"bundle"`
		}{st.Origin(), b})
	}

	if policyFlags.format == string(cli.FormatCSV) {
		rows := make([][]string, 0, len(b.Rules))
		for _, r := range b.Rules {
			rows = append(rows, []string{r.ID, r.Name, r.Severity.String(), r.Action.String(), strconv.FormatBool(r.Enabled)})
		}
		formatter := &cli.CSVFormatter{Headers: []string{"id", "name", "severity", "action", "enabled"}}
		return formatter.FormatTo(out, rows)
	}

	fmt.Fprintf(out, "Version: %d (%s)\n", b.Version, st.Origin())
	if !b.IssuedAt.IsZero() {
		fmt.Fprintf(out, "Issued:  %s\n", b.IssuedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Rules:   %d\n\n", len(b.Rules))
	for _, r := range b.Rules {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "  %-28s %-9s %-10s %-8s %s\n", r.ID, r.Severity, r.Action, state, r.Name)
	}
	return nil
}
