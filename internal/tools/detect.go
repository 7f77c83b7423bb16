package tools

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

type Status struct {
	Name      string `json:"name"`
	Binary    string `json:"binary"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Probe describes how to detect one binary.
type Probe struct {
	Name       string
	Binary     string
	VersionArg string
}

// NmapProbe probes the nmap binary at path, or "nmap" on PATH when empty.
func NmapProbe(path string) Probe {
	if path == "" {
		path = "nmap"
	}
	return Probe{Name: "Nmap", Binary: path, VersionArg: "--version"}
}

// Detect reports which of the probed binaries are installed and their
// version banner.
func Detect(ctx context.Context, probes ...Probe) []Status {
	statuses := make([]Status, 0, len(probes))
	for _, p := range probes {
		st := Status{Name: p.Name, Binary: p.Binary}
		path, err := exec.LookPath(p.Binary)
		if err == nil {
			st.Installed = true
			st.Path = path
			if p.VersionArg != "" {
				st.Version = versionBanner(ctx, path, p.VersionArg)
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}

func versionBanner(ctx context.Context, path, arg string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, arg).CombinedOutput()
	if err != nil {
		return ""
	}
	return firstLine(string(out), 100)
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if len(s) > max {
		s = s[:max]
	}
	return s
}
