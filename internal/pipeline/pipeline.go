// Package pipeline drives one scan from nmap to report: run, parse,
// ingest, diff against the previous scan of the target, score and render.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesruggles/surfacewatch/internal/changes"
	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/jamesruggles/surfacewatch/internal/ingest"
	"github.com/jamesruggles/surfacewatch/internal/report"
	"github.com/jamesruggles/surfacewatch/internal/risk"
	"github.com/jamesruggles/surfacewatch/internal/scanner"
	"github.com/jamesruggles/surfacewatch/internal/telemetry"
	"github.com/jamesruggles/surfacewatch/internal/tools"
)

// ErrBusy is returned when a scan is already in progress.
var ErrBusy = errors.New("another scan is already running")

// Runner executes nmap for a scan.
type Runner interface {
	Run(ctx context.Context, req scanner.Request) (*scanner.Result, error)
	Cancel(scanID int64) bool
}

type Options struct {
	Formats     []string
	Broadcaster scanner.Broadcaster
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

type Pipeline struct {
	db       *database.DB
	runner   Runner
	parser   *scanner.Parser
	ingest   *ingest.Orchestrator
	detector *changes.Detector
	scorer   *risk.Scorer
	writer   *report.Writer

	formats     []string
	broadcaster scanner.Broadcaster
	metrics     *telemetry.Metrics
	logger      *slog.Logger

	busy sync.Mutex
}

func New(db *database.DB, runner Runner, scorer *risk.Scorer, writer *report.Writer, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New(nil)
	}
	return &Pipeline{
		db:          db,
		runner:      runner,
		parser:      scanner.NewParser(opts.Logger),
		ingest:      ingest.New(db, opts.Logger, opts.Metrics),
		detector:    changes.NewDetector(db),
		scorer:      scorer,
		writer:      writer,
		formats:     opts.Formats,
		broadcaster: opts.Broadcaster,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Outcome is everything one completed run produced.
type Outcome struct {
	RunID   string             `json:"run_id"`
	Scan    *database.Scan     `json:"scan"`
	Events  []events.Event     `json:"-"`
	Risks   []risk.Assessment  `json:"risk_assessment"`
	Changes *changes.ChangeSet `json:"changes,omitempty"`
	Report  *report.Report     `json:"report"`
	Files   []database.Report  `json:"files"`
}

// Run is a scan that holds the pipeline. It must end with Execute, Import
// or Abort, which release the pipeline.
type Run struct {
	ID     string
	Scan   *database.Scan
	p      *Pipeline
	logger *slog.Logger
	once   sync.Once
}

// Begin validates the request, takes the pipeline and records a running
// scan. It returns ErrBusy while another run holds the pipeline.
func (p *Pipeline) Begin(ctx context.Context, target, profile string) (*Run, error) {
	if _, err := scanner.LookupProfile(profile); err != nil {
		return nil, err
	}
	if err := tools.ValidateTarget(target); err != nil {
		return nil, err
	}
	if !p.busy.TryLock() {
		return nil, ErrBusy
	}

	scan := &database.Scan{Target: target, Profile: profile, Timestamp: time.Now().UTC()}
	if err := p.db.CreateScan(ctx, scan); err != nil {
		p.busy.Unlock()
		return nil, fmt.Errorf("create scan: %w", err)
	}

	id := uuid.NewString()
	r := &Run{
		ID:     id,
		Scan:   scan,
		p:      p,
		logger: p.logger.With("run_id", id, "scan_id", scan.ID),
	}
	p.metrics.ScansRunning.Inc()
	r.logger.Info("scan started", "target", target, "profile", profile)
	return r, nil
}

func (r *Run) release() {
	r.once.Do(func() {
		r.p.metrics.ScansRunning.Dec()
		r.p.busy.Unlock()
	})
}

// Abort fails the scan without running it.
func (r *Run) Abort(ctx context.Context, reason error) {
	defer r.release()
	r.fail(ctx, reason)
}

// Execute runs nmap and processes its output.
func (r *Run) Execute(ctx context.Context) (*Outcome, error) {
	defer r.release()
	start := time.Now()

	res, err := r.p.runner.Run(ctx, scanner.Request{ScanID: r.Scan.ID, Target: r.Scan.Target, Profile: r.Scan.Profile})
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	return r.process(ctx, res.OutputFile, start)
}

// Import processes an existing nmap XML file as this run's output.
func (r *Run) Import(ctx context.Context, xmlPath string) (*Outcome, error) {
	defer r.release()
	return r.process(ctx, xmlPath, time.Now())
}

// Import records a scan of target from an existing nmap XML file.
func (p *Pipeline) Import(ctx context.Context, target, profile, xmlPath string) (*Outcome, error) {
	if _, err := os.Stat(xmlPath); err != nil {
		return nil, fmt.Errorf("scan output: %w", err)
	}
	run, err := p.Begin(ctx, target, profile)
	if err != nil {
		return nil, err
	}
	return run.Import(ctx, xmlPath)
}

// DryRun shows the nmap command a scan would run.
func (p *Pipeline) DryRun(ctx context.Context, target, profile string) (*scanner.Result, error) {
	return p.runner.Run(ctx, scanner.Request{Target: target, Profile: profile, DryRun: true})
}

// Cancel stops the nmap process of a running scan.
func (p *Pipeline) Cancel(scanID int64) bool {
	return p.runner.Cancel(scanID)
}

func (r *Run) process(ctx context.Context, xmlPath string, start time.Time) (*Outcome, error) {
	p := r.p

	evs, err := p.parser.ParseFile(xmlPath, time.Now().UTC())
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.logger.Info("parsed scan output", "events", len(evs), "file", xmlPath)

	prior, err := p.ingest.Ingest(ctx, r.Scan.ID, evs)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	elapsed := time.Since(start)
	if err := p.db.UpdateScanDuration(ctx, r.Scan.ID, elapsed.Seconds()); err != nil {
		r.logger.Warn("record scan duration", "error", err)
	}

	cs := r.diff(ctx)
	risks := p.scorer.ScoreAll(events.PortStates(evs), prior)

	scan, err := p.db.GetScan(ctx, r.Scan.ID)
	if err != nil || scan == nil {
		scan = r.Scan
		scan.Status = database.ScanCompleted
		scan.DurationSeconds = elapsed.Seconds()
	}

	rpt := report.Build(scan, evs, risks, cs)
	out := &Outcome{RunID: r.ID, Scan: scan, Events: evs, Risks: risks, Changes: cs, Report: rpt}
	if p.writer != nil && len(p.formats) > 0 {
		files, err := p.writer.Write(ctx, rpt, p.formats)
		if err != nil {
			r.logger.Error("report generation incomplete", "error", err)
		}
		out.Files = files
		for _, f := range files {
			p.metrics.ReportsWritten.WithLabelValues(f.Format).Inc()
		}
	}

	p.metrics.ScansTotal.WithLabelValues(database.ScanCompleted).Inc()
	p.metrics.ScanDuration.Observe(elapsed.Seconds())
	for _, a := range risks {
		p.metrics.RiskScores.Observe(float64(a.Risk))
	}
	if cs != nil {
		p.metrics.PortChanges.WithLabelValues("opened").Add(float64(len(cs.Opened)))
		p.metrics.PortChanges.WithLabelValues("closed").Add(float64(len(cs.Closed)))
	}

	r.logger.Info("scan completed",
		"duration", elapsed.Round(time.Millisecond),
		"risks", len(risks),
		"high", rpt.Summary.HighRiskFindings,
		"opened", changeCount(cs, true),
		"closed", changeCount(cs, false),
	)
	r.done("")
	return out, nil
}

// diff compares with the previous completed scan of the same target. A
// failure here is logged and leaves the report without changes.
func (r *Run) diff(ctx context.Context) *changes.ChangeSet {
	p := r.p
	baseline, err := p.db.LastCompletedScan(ctx, r.Scan.Target, r.Scan.ID)
	if err != nil {
		r.logger.Warn("change detection failed", "error", err)
		return nil
	}
	if baseline == nil {
		r.logger.Info("no baseline scan for target", "target", r.Scan.Target)
		return nil
	}
	cs, err := p.detector.Diff(ctx, baseline.ID, r.Scan.ID)
	if err != nil {
		r.logger.Warn("change detection failed", "baseline_scan_id", baseline.ID, "error", err)
		return nil
	}
	return &cs
}

func (r *Run) fail(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := r.p.db.FailScan(ctx, r.Scan.ID, cause.Error()); err != nil {
		r.logger.Error("mark scan failed", "error", err)
	}
	r.p.metrics.ScansTotal.WithLabelValues(database.ScanFailed).Inc()
	r.logger.Error("scan failed", "error", cause)
	r.done("Error: " + cause.Error())
	return cause
}

// done tells live subscribers that the scan is over.
func (r *Run) done(message string) {
	b := r.p.broadcaster
	if b == nil {
		return
	}
	if message != "" {
		b.Broadcast(r.Scan.ID, tools.OutputLine{Timestamp: time.Now(), Stream: "stderr", Line: message})
	}
	b.Broadcast(r.Scan.ID, tools.OutputLine{Timestamp: time.Now(), Done: true})
}

func changeCount(cs *changes.ChangeSet, opened bool) int {
	if cs == nil {
		return 0
	}
	if opened {
		return len(cs.Opened)
	}
	return len(cs.Closed)
}
