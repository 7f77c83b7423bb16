// Package report assembles scan results into a report and renders it as
// JSON, Markdown or PDF.
package report

import (
	"time"

	"github.com/jamesruggles/surfacewatch/internal/changes"
	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/jamesruggles/surfacewatch/internal/risk"
)

type Summary struct {
	TotalEvents        int `json:"total_events"`
	OpenPorts          int `json:"open_ports"`
	ClosedPorts        int `json:"closed_ports"`
	FilteredPorts      int `json:"filtered_ports"`
	HighRiskFindings   int `json:"high_risk_findings"`
	MediumRiskFindings int `json:"medium_risk_findings"`
}

type Report struct {
	ScanID          int64             `json:"scan_id"`
	Target          string            `json:"target"`
	Profile         string            `json:"profile"`
	Timestamp       time.Time         `json:"timestamp"`
	DurationSeconds float64           `json:"duration_seconds"`
	HasBaseline     bool              `json:"has_baseline"`
	Summary         Summary           `json:"summary"`
	Changes         changes.ChangeSet `json:"changes"`
	Risks           []risk.Assessment `json:"risk_assessment"`
}

// Build assembles the report for one ingested scan. cs is nil when the
// target had no earlier completed scan.
func Build(scan *database.Scan, evs []events.Event, risks []risk.Assessment, cs *changes.ChangeSet) *Report {
	r := &Report{
		ScanID:          scan.ID,
		Target:          scan.Target,
		Profile:         scan.Profile,
		Timestamp:       time.Now().UTC(),
		DurationSeconds: scan.DurationSeconds,
		Summary:         Summarize(evs, risks),
		Risks:           risks,
	}
	if r.Risks == nil {
		r.Risks = []risk.Assessment{}
	}
	if cs != nil {
		r.HasBaseline = true
		r.Changes = *cs
	} else {
		r.Changes = changes.ChangeSet{CurrentID: scan.ID}
	}
	return r
}

// Summarize counts port states over evs and severities over risks.
func Summarize(evs []events.Event, risks []risk.Assessment) Summary {
	states := events.CountStates(evs)
	s := Summary{
		TotalEvents:   len(evs),
		OpenPorts:     states[events.StateOpen],
		ClosedPorts:   states[events.StateClosed],
		FilteredPorts: states[events.StateFiltered],
	}
	for _, a := range risks {
		switch risk.Severity(a.Risk) {
		case "high":
			s.HighRiskFindings++
		case "medium":
			s.MediumRiskFindings++
		}
	}
	return s
}
