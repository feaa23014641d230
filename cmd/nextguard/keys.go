package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

var keysFlags struct {
	output string
	name   string
	force  bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing keys",
	Long: `Generate Ed25519 keypairs for policy bundle signing and audit batch
signing.

The public key of the policy keypair is distributed to agents
(policy.public_key_path); the private key stays with whoever signs bundles.`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new keypair",
	Long: `Generate a new Ed25519 keypair.

The keys are saved as PEM files:
  - <name>.pub: 0644
  - <name>.key: 0600

Examples:
  nextguard keys generate --name policy
  nextguard keys generate --name upload --output /etc/nextguard`,
	RunE: generateKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	keysGenerateCmd.Flags().StringVarP(&keysFlags.output, "output", "o", ".", "output directory")
	keysGenerateCmd.Flags().StringVar(&keysFlags.name, "name", "policy", "key file base name")
	keysGenerateCmd.Flags().BoolVar(&keysFlags.force, "force", false, "overwrite existing key files")
}

func generateKeys(cmd *cobra.Command, args []string) error {
	pubPath := filepath.Join(keysFlags.output, keysFlags.name+".pub")
	privPath := filepath.Join(keysFlags.output, keysFlags.name+".key")

	if !keysFlags.force {
		for _, p := range []string{pubPath, privPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", p)
			}
		}
	}

	pub, priv, err := keys.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}
	defer keys.Zero(priv)

	if err := os.MkdirAll(keysFlags.output, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := keys.SavePublicKey(pubPath, pub); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	if err := keys.SavePrivateKey(privPath, priv); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Public Key:  %s\n", pubPath)
	fmt.Fprintf(out, "Private Key: %s\n", privPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "⚠️  Warning: Store the private key securely and never commit it to version control")
	fmt.Fprintln(out, "✓  Keys generated successfully")
	return nil
}
