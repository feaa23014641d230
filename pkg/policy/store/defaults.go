package store

import "github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"

// DefaultBundle returns the built-in rule set used until a signed bundle has
// been installed. It has version 0 so that any server bundle supersedes it.
func DefaultBundle() *policy.Bundle {
	return &policy.Bundle{
		Version: 0,
		Rules: []policy.Rule{
			{
				ID:         "builtin-credit-card",
				Name:       "Payment card number",
				Patterns:   []string{`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`},
				Severity:   policy.SeverityCritical,
				Action:     policy.ActionBlock,
				Enabled:    true,
				Compliance: "PCI-DSS",
			},
			{
				ID:         "builtin-hkid",
				Name:       "Hong Kong identity card number",
				Patterns:   []string{`\b[A-Z]{1,2}[0-9]{6}\([0-9A]\)`},
				Severity:   policy.SeverityHigh,
				Action:     policy.ActionQuarantine,
				Enabled:    true,
				Compliance: "PDPO",
			},
			{
				ID:         "builtin-us-ssn",
				Name:       "US social security number",
				Patterns:   []string{`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
				Severity:   policy.SeverityHigh,
				Action:     policy.ActionQuarantine,
				Enabled:    true,
				Compliance: "GLBA",
			},
			{
				ID:       "builtin-private-key",
				Name:     "Private key material",
				Patterns: []string{`-----BEGIN (?:RSA |EC |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`},
				Severity: policy.SeverityCritical,
				Action:   policy.ActionBlock,
				Enabled:  true,
			},
			{
				ID:       "builtin-cloud-credentials",
				Name:     "Cloud access key",
				Patterns: []string{`\bAKIA[0-9A-Z]{16}\b`},
				Severity: policy.SeverityCritical,
				Action:   policy.ActionBlock,
				Enabled:  true,
			},
			{
				ID:       "builtin-confidential-marking",
				Name:     "Confidentiality marking",
				Keywords: []string{"strictly confidential", "internal use only"},
				Severity: policy.SeverityMedium,
				Action:   policy.ActionNotify,
				Enabled:  true,
			},
		},
	}
}
