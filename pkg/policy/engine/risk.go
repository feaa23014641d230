package engine

import "github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"

// RiskWeights converts contributing rules into an aggregate 0-100 risk score.
// The values are policy constants: the only property they carry is that a
// higher severity contributes more to the score.
type RiskWeights struct {
	// Points added per contributing rule, by severity.
	Critical int `yaml:"critical"`
	High     int `yaml:"high"`
	Medium   int `yaml:"medium"`
	Low      int `yaml:"low"`
	Info     int `yaml:"info"`

	// Score thresholds for the risk level; a score at or above the
	// threshold reaches that level.
	CriticalAt int `yaml:"critical_at"`
	HighAt     int `yaml:"high_at"`
	MediumAt   int `yaml:"medium_at"`
	LowAt      int `yaml:"low_at"`
}

// DefaultRiskWeights returns the default weights (40/25/10/5/0) and level
// thresholds (80/60/40/20).
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		Critical:   40,
		High:       25,
		Medium:     10,
		Low:        5,
		Info:       0,
		CriticalAt: 80,
		HighAt:     60,
		MediumAt:   40,
		LowAt:      20,
	}
}

func (w RiskWeights) points(s policy.Severity) int {
	switch s {
	case policy.SeverityCritical:
		return w.Critical
	case policy.SeverityHigh:
		return w.High
	case policy.SeverityMedium:
		return w.Medium
	case policy.SeverityLow:
		return w.Low
	default:
		return w.Info
	}
}

// Score sums the weight of each contributing rule once, capped at 100, and
// maps the sum to a risk level.
func (w RiskWeights) Score(matches []policy.Match) (int, policy.Severity) {
	seen := make(map[string]struct{}, len(matches))
	score := 0
	for _, m := range matches {
		if _, ok := seen[m.RuleID]; ok {
			continue
		}
		seen[m.RuleID] = struct{}{}
		score += w.points(m.Severity)
	}
	if score > 100 {
		score = 100
	}
	return score, w.Level(score)
}

// Level maps a score to a severity level.
func (w RiskWeights) Level(score int) policy.Severity {
	switch {
	case score >= w.CriticalAt:
		return policy.SeverityCritical
	case score >= w.HighAt:
		return policy.SeverityHigh
	case score >= w.MediumAt:
		return policy.SeverityMedium
	case score >= w.LowAt:
		return policy.SeverityLow
	default:
		return policy.SeverityInfo
	}
}
