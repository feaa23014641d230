package engine

import "github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"

// Resolve folds matches into a single enforcement action.
//
// Actions are totally ordered block > quarantine > encrypt > notify > audit >
// allow and the highest configured action wins. A match from a critical rule
// forces block regardless of its configured action. No matches resolve to
// allow. Channel-specific adjustments are left to the caller.
func Resolve(matches []policy.Match) policy.Action {
	action := policy.ActionAllow
	for _, m := range matches {
		if m.Severity == policy.SeverityCritical {
			return policy.ActionBlock
		}
		if m.Action > action {
			action = m.Action
		}
	}
	return action
}

// HighestSeverity returns the maximum severity among matches, or info when
// there are none.
func HighestSeverity(matches []policy.Match) policy.Severity {
	highest := policy.SeverityInfo
	for _, m := range matches {
		if m.Severity > highest {
			highest = m.Severity
		}
	}
	return highest
}
