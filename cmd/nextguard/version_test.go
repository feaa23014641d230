package main

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	Version, GitCommit = "0.1.0-test", "abc123"
	t.Cleanup(func() { Version, GitCommit = origVersion, origCommit })

	cmd, out := newTestCommand(t)
	versionCmd.Run(cmd, nil)

	for _, want := range []string{"NextGuard agent 0.1.0-test", "Git Commit: abc123", runtime.Version()} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "version", "completion", "status", "sync", "flush", "scan", "policy", "audit", "keys", "certs"}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{name})
			if err != nil || c == rootCmd {
				t.Fatalf("command %q not registered", name)
			}
			if c.Short == "" {
				t.Errorf("command %q has no short description", name)
			}
		})
	}
}
