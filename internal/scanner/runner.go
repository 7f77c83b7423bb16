package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/tools"
)

// Broadcaster receives live scanner output for a scan.
type Broadcaster interface {
	Broadcast(scanID int64, line tools.OutputLine)
}

type RunnerConfig struct {
	NmapPath string
	ScansDir string
	Timeout  time.Duration
}

// Runner executes nmap with a named profile and writes its XML output to
// the scans directory.
type Runner struct {
	cfg         RunnerConfig
	broadcaster Broadcaster
	logger      *slog.Logger

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
}

func NewRunner(cfg RunnerConfig, broadcaster Broadcaster, logger *slog.Logger) *Runner {
	if cfg.NmapPath == "" {
		cfg.NmapPath = "nmap"
	}
	if cfg.ScansDir == "" {
		cfg.ScansDir = "scans"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		broadcaster: broadcaster,
		logger:      logger,
		cancels:     make(map[int64]context.CancelFunc),
	}
}

type Request struct {
	ScanID  int64
	Target  string
	Profile string
	DryRun  bool
}

type Result struct {
	Command    string        `json:"command"`
	OutputFile string        `json:"output_file"`
	Duration   time.Duration `json:"duration"`
	DryRun     bool          `json:"dry_run"`
}

// Prepare validates the request and builds the nmap command line without
// running anything.
func (r *Runner) Prepare(req Request) (tools.Command, string, error) {
	profile, err := LookupProfile(req.Profile)
	if err != nil {
		return tools.Command{}, "", err
	}
	if err := tools.ValidateTarget(req.Target); err != nil {
		return tools.Command{}, "", err
	}

	name := fmt.Sprintf("scan_%s.xml", time.Now().UTC().Format("20060102_150405"))
	if req.ScanID > 0 {
		name = fmt.Sprintf("scan_%d_%s.xml", req.ScanID, time.Now().UTC().Format("20060102_150405"))
	}
	out := filepath.Join(r.cfg.ScansDir, name)

	args := append(profile.Flags, "-oX", out, req.Target)
	return tools.Command{Binary: r.cfg.NmapPath, Args: args, Timeout: r.cfg.Timeout}, out, nil
}

// Run executes the scan. A dry run only builds the command. The scan can be
// stopped with Cancel while it runs.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	cmd, out, err := r.Prepare(req)
	if err != nil {
		return nil, err
	}
	r.logger.Info("preparing scan", "scan_id", req.ScanID, "target", req.Target, "profile", req.Profile)
	r.logger.Debug("nmap command", "command", cmd.String())

	if req.DryRun {
		r.logger.Info("dry run, scan not executed", "command", cmd.String())
		return &Result{Command: cmd.String(), OutputFile: out, DryRun: true}, nil
	}

	if _, err := tools.LookPath(cmd.Binary); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.cfg.ScansDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scans dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.track(req.ScanID, cancel)
	defer r.untrack(req.ScanID)

	lines := make(chan tools.OutputLine, 100)
	var res *tools.Result
	var runErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, runErr = tools.Run(ctx, cmd, lines)
	}()

	for line := range lines {
		if r.broadcaster != nil {
			r.broadcaster.Broadcast(req.ScanID, line)
		}
	}
	wg.Wait()

	if runErr != nil {
		if res != nil && res.Stderr != "" {
			r.logger.Error("nmap stderr", "scan_id", req.ScanID, "stderr", res.Stderr)
		}
		return nil, fmt.Errorf("nmap scan: %w", runErr)
	}

	if _, err := os.Stat(out); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("nmap finished but %s was not created", out)
		}
		return nil, fmt.Errorf("stat scan output: %w", err)
	}

	r.logger.Info("scan finished", "scan_id", req.ScanID, "duration", res.Duration, "output", out)
	return &Result{Command: cmd.String(), OutputFile: out, Duration: res.Duration}, nil
}

// Cancel stops the running scan with the given id. It reports whether a
// scan was running.
func (r *Runner) Cancel(scanID int64) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[scanID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *Runner) track(id int64, cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
}

func (r *Runner) untrack(id int64) {
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}
