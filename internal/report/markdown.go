package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/risk"
)

// Markdown renders r as a Markdown document.
func Markdown(r *Report) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Attack Surface Report: %s\n\n", r.Target))
	b.WriteString(fmt.Sprintf("**Scan ID:** %d  \n", r.ScanID))
	b.WriteString(fmt.Sprintf("**Profile:** %s  \n", r.Profile))
	b.WriteString(fmt.Sprintf("**Generated:** %s  \n", r.Timestamp.Format("January 2, 2006 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("**Duration:** %.2f seconds  \n\n", r.DurationSeconds))

	// Summary
	s := r.Summary
	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Count |\n")
	b.WriteString("|---|---|\n")
	b.WriteString(fmt.Sprintf("| Events | %d |\n", s.TotalEvents))
	b.WriteString(fmt.Sprintf("| Open ports | %d |\n", s.OpenPorts))
	b.WriteString(fmt.Sprintf("| Closed ports | %d |\n", s.ClosedPorts))
	b.WriteString(fmt.Sprintf("| Filtered ports | %d |\n", s.FilteredPorts))
	b.WriteString(fmt.Sprintf("| High risk findings | %d |\n", s.HighRiskFindings))
	b.WriteString(fmt.Sprintf("| Medium risk findings | %d |\n", s.MediumRiskFindings))
	b.WriteString("\n")

	// Changes
	b.WriteString("## Attack Surface Changes\n\n")
	switch {
	case !r.HasBaseline:
		b.WriteString("No earlier completed scan of this target to compare against.\n\n")
	case r.Changes.Empty():
		b.WriteString(fmt.Sprintf("No changes since scan %d.\n\n", r.Changes.BaselineID))
	default:
		b.WriteString(fmt.Sprintf("Compared with scan %d.\n\n", r.Changes.BaselineID))
		if len(r.Changes.Opened) > 0 {
			b.WriteString("### Newly Opened\n\n")
			for _, k := range r.Changes.Opened.Sorted() {
				b.WriteString(fmt.Sprintf("- `+` %s\n", k))
			}
			b.WriteString("\n")
		}
		if len(r.Changes.Closed) > 0 {
			b.WriteString("### Recently Closed\n\n")
			for _, k := range r.Changes.Closed.Sorted() {
				b.WriteString(fmt.Sprintf("- `-` %s\n", k))
			}
			b.WriteString("\n")
		}
	}

	// Risk assessment
	b.WriteString("## Risk Assessment\n\n")
	if len(r.Risks) == 0 {
		b.WriteString("No risky services detected.\n")
		return b.String()
	}
	b.WriteString("| Host | Port | Service | Version | Risk | Severity | Factors |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, a := range r.Risks {
		b.WriteString(fmt.Sprintf("| %s | %d/%s | %s | %s | %d/10 | %s | %s |\n",
			a.Host, a.Port, a.Protocol,
			orDash(a.Service),
			orDash(strings.TrimSpace(a.Product+" "+a.Version)),
			a.Risk, risk.Severity(a.Risk),
			orDash(strings.Join(a.Factors, "; ")),
		))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("_Report produced by surfacewatch on %s._\n", time.Now().UTC().Format(time.RFC3339)))

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
