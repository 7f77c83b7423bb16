package tools

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		target string
		ok     bool
	}{
		{"192.168.1.10", true},
		{"::1", true},
		{"10.0.0.0/24", true},
		{"10.0.0.0/16", true},
		{"10.0.0.0/8", false},
		{"2001:db8::/48", true},
		{"2001:db8::/32", false},
		{"scanme.nmap.org", true},
		{"localhost", true},
		{"", false},
		{"   ", false},
		{"example.com; rm -rf /", false},
		{"$(whoami)", false},
		{"a b", false},
		{"-sV", false},
		{"bad_host!", false},
		{"under_score.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			err := ValidateTarget(tt.target)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTarget)
			}
		})
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunStreamsOutput(t *testing.T) {
	requireShell(t)

	out := make(chan OutputLine, 16)
	var lines []OutputLine
	done := make(chan struct{})
	go func() {
		for l := range out {
			lines = append(lines, l)
		}
		close(done)
	}()

	res, err := Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "echo one; echo two; echo oops 1>&2"},
	}, out)
	<-done

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "one\ntwo\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Len(t, lines, 3)
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), Command{Binary: "sh", Args: []string{"-c", "exit 3"}}, nil)
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestRunTimeout(t *testing.T) {
	requireShell(t)

	res, err := Run(context.Background(), Command{
		Binary:  "sh",
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 100 * time.Millisecond,
	}, nil)
	require.Error(t, err)
	assert.True(t, res.TimedOut)
	assert.ErrorContains(t, err, "timed out")
}

func TestRunMissingBinary(t *testing.T) {
	out := make(chan OutputLine)
	_, err := Run(context.Background(), Command{Binary: "definitely-not-a-real-binary-xyz"}, out)
	require.Error(t, err)

	_, open := <-out
	assert.False(t, open)
}

func TestLookPathMissing(t *testing.T) {
	_, err := LookPath("definitely-not-a-real-binary-xyz")
	assert.True(t, errors.Is(err, ErrNotInstalled))
}

func TestDetectMissingBinary(t *testing.T) {
	st := Detect(context.Background(), Probe{Name: "Ghost", Binary: "definitely-not-a-real-binary-xyz", VersionArg: "--version"})
	require.Len(t, st, 1)
	assert.False(t, st[0].Installed)
	assert.Empty(t, st[0].Path)
}

func TestNmapProbeDefaultsToPath(t *testing.T) {
	assert.Equal(t, "nmap", NmapProbe("").Binary)
	assert.Equal(t, "/opt/nmap/bin/nmap", NmapProbe("/opt/nmap/bin/nmap").Binary)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Nmap version 7.94", firstLine("Nmap version 7.94\nPlatform: x86_64\n", 100))
	assert.Equal(t, "abc", firstLine("abcdef", 3))
	assert.Equal(t, "", firstLine("", 10))
}

func TestCommandString(t *testing.T) {
	c := Command{Binary: "nmap", Args: []string{"-T4", "--top-ports", "100", "10.0.0.1"}}
	assert.Equal(t, "nmap -T4 --top-ports 100 10.0.0.1", c.String())
}
