package scanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/jamesruggles/surfacewatch/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLookupProfile(t *testing.T) {
	p, err := LookupProfile("fast")
	require.NoError(t, err)
	assert.Equal(t, []string{"-T4", "--top-ports", "100"}, p.Flags)

	p.Flags[0] = "-T5"
	again, _ := LookupProfile("fast")
	assert.Equal(t, "-T4", again.Flags[0])

	_, err = LookupProfile("aggressive")
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"comprehensive", "fast", "full", "stealth"}, cerr.Available)
	assert.Contains(t, err.Error(), "fast, full")
}

func TestProfilesSorted(t *testing.T) {
	ps := Profiles()
	require.Len(t, ps, 4)
	assert.Equal(t, "comprehensive", ps[0].Name)
	assert.Equal(t, "stealth", ps[3].Name)
}

func TestParseSample(t *testing.T) {
	ts := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	evs, err := NewParser(quietLogger()).ParseFile(filepath.Join("testdata", "sample.xml"), ts)
	require.NoError(t, err)

	// host1 + 5 ports, host2 + 1 port
	require.Len(t, evs, 8)

	h, ok := evs[0].(events.HostDiscovered)
	require.True(t, ok)
	assert.Equal(t, "192.168.56.10", h.Host)
	require.NotNil(t, h.LatencyMS)
	assert.InDelta(t, 1.523, *h.LatencyMS, 1e-9)

	ssh := evs[1].(events.PortState)
	assert.Equal(t, 22, ssh.Port)
	assert.Equal(t, events.StateOpen, ssh.State)
	assert.Equal(t, "OpenSSH", ssh.Product)
	assert.Equal(t, "6.6.1p1", ssh.Version)

	telnet := evs[2].(events.PortState)
	assert.Equal(t, "telnet", telnet.Service)
	assert.Empty(t, telnet.Product)

	closed := evs[4].(events.PortState)
	assert.Equal(t, events.StateClosed, closed.State)
	assert.Empty(t, closed.Service)

	snmp := evs[5].(events.PortState)
	assert.Equal(t, events.ProtocolUDP, snmp.Protocol)
	assert.Equal(t, events.StateFiltered, snmp.State)

	h2 := evs[6].(events.HostDiscovered)
	assert.Nil(t, h2.LatencyMS)
	assert.Equal(t, 31337, evs[7].(events.PortState).Port)

	for _, ev := range evs {
		assert.Equal(t, ts, ev.Meta().Timestamp)
		assert.NoError(t, ev.Validate())
	}
}

func TestParseRejectsWrongRoot(t *testing.T) {
	_, err := NewParser(quietLogger()).Parse(strings.NewReader(`<?xml version="1.0"?><scan><host/></scan>`), time.Now())
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "<scan>")
}

func TestParseRejectsBrokenXML(t *testing.T) {
	tests := map[string]string{
		"empty":     ``,
		"truncated": `<nmaprun><host><address addr="1.2.3.4" addrtype="ipv4"/>`,
		"garbage":   `not xml at all`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewParser(quietLogger()).Parse(strings.NewReader(doc), time.Now())
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestParseEmptyRun(t *testing.T) {
	evs, err := NewParser(quietLogger()).Parse(strings.NewReader(`<nmaprun scanner="nmap"></nmaprun>`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestParseFileMissing(t *testing.T) {
	_, err := NewParser(quietLogger()).ParseFile(filepath.Join(t.TempDir(), "nope.xml"), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseFileErrorNamesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xml")
	require.NoError(t, os.WriteFile(path, []byte("<report/>"), 0o644))
	_, err := NewParser(quietLogger()).ParseFile(path, time.Now())
	assert.ErrorContains(t, err, path)
}

func TestNormalizeState(t *testing.T) {
	for in, want := range map[string]events.State{
		"open":            events.StateOpen,
		"closed":          events.StateClosed,
		"filtered":        events.StateFiltered,
		"open|filtered":   events.StateFiltered,
		"closed|filtered": events.StateFiltered,
	} {
		got, ok := normalizeState(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := normalizeState("unfiltered")
	assert.False(t, ok)
}

type recorder struct {
	mu    sync.Mutex
	lines []tools.OutputLine
}

func (r *recorder) Broadcast(_ int64, line tools.OutputLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func TestRunnerDryRun(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(RunnerConfig{NmapPath: "nmap", ScansDir: dir}, nil, quietLogger())

	res, err := r.Run(context.Background(), Request{Target: "10.0.0.1", Profile: "stealth", DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, strings.HasPrefix(res.Command, "nmap -sS -Pn -T2 -oX "+dir))
	assert.True(t, strings.HasSuffix(res.Command, " 10.0.0.1"))
	assert.NoFileExists(t, res.OutputFile)
}

func TestRunnerRejectsBadInput(t *testing.T) {
	r := NewRunner(RunnerConfig{ScansDir: t.TempDir()}, nil, quietLogger())

	_, err := r.Run(context.Background(), Request{Target: "10.0.0.1", Profile: "nope"})
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr))

	_, err = r.Run(context.Background(), Request{Target: "10.0.0.1;id", Profile: "fast"})
	assert.ErrorIs(t, err, tools.ErrInvalidTarget)
}

func TestRunnerMissingNmap(t *testing.T) {
	r := NewRunner(RunnerConfig{NmapPath: "nmap-missing-for-test", ScansDir: t.TempDir()}, nil, quietLogger())
	_, err := r.Run(context.Background(), Request{Target: "10.0.0.1", Profile: "fast"})
	assert.ErrorIs(t, err, tools.ErrNotInstalled)
}

// fakeNmap writes a script that copies the sample document to the -oX path.
func fakeNmap(t *testing.T, exitCode int) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	sample, err := filepath.Abs(filepath.Join("testdata", "sample.xml"))
	require.NoError(t, err)

	script := `#!/bin/sh
echo "Starting Nmap 7.94"
while [ $# -gt 0 ]; do
  if [ "$1" = "-oX" ]; then shift; cp "` + sample + `" "$1"; fi
  shift
done
echo "Nmap done: 1 IP address (1 host up)"
exit ` + string(rune('0'+exitCode)) + "\n"

	path := filepath.Join(t.TempDir(), "nmap")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunnerExecutesAndBroadcasts(t *testing.T) {
	rec := &recorder{}
	dir := filepath.Join(t.TempDir(), "scans")
	r := NewRunner(RunnerConfig{NmapPath: fakeNmap(t, 0), ScansDir: dir}, rec, quietLogger())

	res, err := r.Run(context.Background(), Request{ScanID: 7, Target: "192.168.56.0/24", Profile: "fast"})
	require.NoError(t, err)
	assert.FileExists(t, res.OutputFile)
	assert.Contains(t, filepath.Base(res.OutputFile), "scan_7_")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.lines, 2)
	assert.Equal(t, "Starting Nmap 7.94", rec.lines[0].Line)
	assert.False(t, r.Cancel(7))
}

func TestRunnerNmapFailure(t *testing.T) {
	r := NewRunner(RunnerConfig{NmapPath: fakeNmap(t, 1), ScansDir: t.TempDir()}, nil, quietLogger())
	_, err := r.Run(context.Background(), Request{Target: "10.0.0.1", Profile: "fast"})
	assert.ErrorContains(t, err, "exited with code 1")
}
