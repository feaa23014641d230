package policy

import (
	"fmt"
	"strings"
)

// Severity is the ordinal severity of a rule: info < low < medium < high < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

// String returns the wire name of the severity.
func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// ParseSeverity parses a severity name (case-insensitive).
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(name, n) {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Action is the enforcement action of a rule. The ordinal order is also the
// resolution priority: allow < audit < notify < encrypt < quarantine < block.
type Action int

const (
	ActionAllow Action = iota
	ActionAudit
	ActionNotify
	ActionEncrypt
	ActionQuarantine
	ActionBlock
)

var actionNames = [...]string{"allow", "audit", "notify", "encrypt", "quarantine", "block"}

// String returns the wire name of the action.
func (a Action) String() string {
	if a < ActionAllow || a > ActionBlock {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool {
	return a >= ActionAllow && a <= ActionBlock
}

// ParseAction parses an action name (case-insensitive).
func ParseAction(name string) (Action, error) {
	for i, n := range actionNames {
		if strings.EqualFold(name, n) {
			return Action(i), nil
		}
	}
	return ActionAllow, fmt.Errorf("unknown action %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	v, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Channel is the observation surface a piece of content was seen on.
type Channel string

const (
	ChannelFile      Channel = "file"
	ChannelClipboard Channel = "clipboard"
	ChannelNetwork   Channel = "network"
	ChannelEmail     Channel = "email"
	ChannelUSB       Channel = "usb"
	ChannelBrowser   Channel = "browser"
	ChannelPrint     Channel = "print"
	ChannelScreen    Channel = "screen"
)

// Channels lists every known channel.
var Channels = []Channel{
	ChannelFile, ChannelClipboard, ChannelNetwork, ChannelEmail,
	ChannelUSB, ChannelBrowser, ChannelPrint, ChannelScreen,
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}
