package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/jamesruggles/surfacewatch/internal/changes"
	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/pipeline"
	"github.com/jamesruggles/surfacewatch/internal/risk"
)

// renderTable prints rows with the first row as header.
func renderTable(w io.Writer, rows [][]string) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData(rows)).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func printOutcome(w io.Writer, out *pipeline.Outcome) error {
	s := out.Scan
	fmt.Fprintf(w, "Scan #%d of %s (%s) %s in %.1fs\n", s.ID, s.Target, s.Profile, s.Status, s.DurationSeconds)

	sum := out.Report.Summary
	fmt.Fprintf(w, "%d events: %d open, %d closed, %d filtered. %d high and %d medium risk findings.\n\n",
		sum.TotalEvents, sum.OpenPorts, sum.ClosedPorts, sum.FilteredPorts,
		sum.HighRiskFindings, sum.MediumRiskFindings)

	if len(out.Risks) > 0 {
		if err := printRisks(w, out.Risks); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "No open ports with risk above zero.")
	}
	fmt.Fprintln(w)

	if out.Changes == nil {
		fmt.Fprintln(w, "No earlier completed scan of this target; changes not computed.")
	} else {
		printChanges(w, out.Changes)
	}

	if len(out.Files) > 0 {
		fmt.Fprintln(w)
		for _, f := range out.Files {
			fmt.Fprintf(w, "Report (%s): %s\n", f.Format, f.FilePath)
		}
	}
	return nil
}

func printRisks(w io.Writer, risks []risk.Assessment) error {
	rows := [][]string{{"Risk", "Severity", "Endpoint", "Service", "Factors"}}
	for _, a := range risks {
		svc := a.Service
		if a.Product != "" {
			svc = strings.TrimSpace(svc + " " + a.Product + " " + a.Version)
		}
		rows = append(rows, []string{
			strconv.Itoa(a.Risk),
			risk.Severity(a.Risk),
			fmt.Sprintf("%s:%d/%s", a.Host, a.Port, a.Protocol),
			orDash(svc),
			strings.Join(a.Factors, "; "),
		})
	}
	return renderTable(w, rows)
}

func printChanges(w io.Writer, cs *changes.ChangeSet) {
	fmt.Fprintf(w, "Changes since scan #%d:\n", cs.BaselineID)
	if cs.Empty() {
		fmt.Fprintln(w, "  no endpoints opened or closed")
		return
	}
	for _, k := range cs.Opened.Sorted() {
		fmt.Fprintf(w, "  + %s\n", k)
	}
	for _, k := range cs.Closed.Sorted() {
		fmt.Fprintf(w, "  - %s\n", k)
	}
}

func printHistory(w io.Writer, recs []database.PortHistory) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No port history recorded.")
		return nil
	}
	rows := [][]string{{"Endpoint", "State", "Seen", "First seen", "Last seen"}}
	for _, h := range recs {
		rows = append(rows, []string{
			h.PortKey.String(),
			h.CurrentState,
			strconv.Itoa(h.SeenCount),
			h.FirstSeen.Local().Format(time.DateTime),
			h.LastSeen.Local().Format(time.DateTime),
		})
	}
	return renderTable(w, rows)
}

func printScans(w io.Writer, scans []database.Scan) error {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans recorded.")
		return nil
	}
	rows := [][]string{{"ID", "Target", "Profile", "Status", "Started", "Duration"}}
	for _, s := range scans {
		status := s.Status
		if s.ErrorMessage != "" {
			status += ": " + s.ErrorMessage
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Target,
			s.Profile,
			status,
			s.Timestamp.Local().Format(time.DateTime),
			fmt.Sprintf("%.1fs", s.DurationSeconds),
		})
	}
	return renderTable(w, rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
