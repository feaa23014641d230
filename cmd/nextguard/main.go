// NextGuard is the endpoint data loss prevention agent.
//
// It inspects content moving through endpoint channels (files, clipboard,
// e-mail, USB, browser uploads) against a signed policy bundle, decides
// allow, notify, quarantine or block, and records every decision in a
// tamper-evident audit chain that is uploaded to the management server.
//
// Usage:
//
//	# Run the agent with its status server
//	nextguard run --config /etc/nextguard/agent.yaml
//
//	# Scan files once and print the decisions
//	nextguard scan --channel usb report.xlsx
//
//	# Verify the local audit chain
//	nextguard audit verify
//
//	# Sign a rule file into a policy bundle
//	nextguard policy sign --rules rules.yaml --key policy.key --version 8 -o bundle.json
package main

func main() {
	Execute()
}
