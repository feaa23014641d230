package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/cli"
	ngtls "github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/tls"
)

var certsFlags struct {
	format string
	caFile string
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Inspect the device certificate",
	Long: `Inspect the client certificate the agent presents to the management
server (security.tls.cert_file).

Subcommands:
  info     - Display certificate details
  validate - Check validity period, client auth usage and chain`,
}

var certsInfoCmd = &cobra.Command{
	Use:   "info [cert-file]",
	Short: "Display certificate details",
	Long: `Display subject, issuer, validity period, SANs and algorithms of a
certificate.

Examples:
  nextguard certs info /etc/nextguard/device.crt
  nextguard certs info --format json /etc/nextguard/device.crt`,
	Args: cobra.ExactArgs(1),
	RunE: displayCertInfo,
}

var certsValidateCmd = &cobra.Command{
	Use:   "validate [cert-file]",
	Short: "Validate a certificate",
	Long: `Check that a certificate is within its validity period and, when --ca is
given, that it chains to the CA for client authentication.

Examples:
  nextguard certs validate device.crt
  nextguard certs validate --ca console-ca.pem device.crt`,
	Args: cobra.ExactArgs(1),
	RunE: validateCert,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsInfoCmd, certsValidateCmd)

	certsInfoCmd.Flags().StringVar(&certsFlags.format, "format", "text", "output format: text, json")
	certsValidateCmd.Flags().StringVar(&certsFlags.caFile, "ca", "", "CA certificate file")
}

func loadCertificate(path string) (*x509.Certificate, error) {
	// #nosec G304 - operator supplied certificate path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s does not contain a PEM certificate", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func displayCertInfo(cmd *cobra.Command, args []string) error {
	cert, err := loadCertificate(args[0])
	if err != nil {
		return err
	}
	info := ngtls.ExtractCertificateInfo(cert)

	out := cmd.OutOrStdout()
	if certsFlags.format == string(cli.FormatJSON) {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(out, info)
	}
	printCertInfo(out, info)
	days, warning := ngtls.CheckCertificateExpiration(cert)
	fmt.Fprintf(out, "Expires in:   %d days\n", days)
	if warning != "" {
		fmt.Fprintf(out, "⚠️  %s\n", warning)
	}
	return nil
}

func printCertInfo(w io.Writer, info *ngtls.CertificateInfo) {
	fmt.Fprintf(w, "Subject:      %s\n", info.Subject)
	fmt.Fprintf(w, "Issuer:       %s\n", info.Issuer)
	fmt.Fprintf(w, "Serial:       %s\n", info.SerialNumber)
	fmt.Fprintf(w, "Not Before:   %s\n", info.NotBefore.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Not After:    %s\n", info.NotAfter.UTC().Format("2006-01-02 15:04:05 MST"))
	if len(info.DNSNames) > 0 {
		fmt.Fprintf(w, "DNS Names:    %s\n", strings.Join(info.DNSNames, ", "))
	}
	if len(info.IPAddresses) > 0 {
		fmt.Fprintf(w, "IP Addresses: %s\n", strings.Join(info.IPAddresses, ", "))
	}
	fmt.Fprintf(w, "Signature:    %s\n", info.SignatureAlgorithm)
	fmt.Fprintf(w, "Public Key:   %s\n", info.PublicKeyAlgorithm)
}

func validateCert(cmd *cobra.Command, args []string) error {
	cert, err := loadCertificate(args[0])
	if err != nil {
		return err
	}
	if err := ngtls.ValidateX509Certificate(cert); err != nil {
		return cli.NewCommandError("certs validate", err)
	}

	if certsFlags.caFile != "" {
		ca, err := loadCertificate(certsFlags.caFile)
		if err != nil {
			return err
		}
		pool := x509.NewCertPool()
		pool.AddCert(ca)
		if err := ngtls.ValidateCertificateChain(cert, pool); err != nil {
			return cli.NewCommandError("certs validate", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Certificate %s is valid\n", args[0])
	return nil
}
