// Package cli wires configuration, logging, storage and the scan pipeline
// behind the surfacewatch command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/jamesruggles/surfacewatch/internal/config"
	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/logging"
	"github.com/jamesruggles/surfacewatch/internal/pipeline"
	"github.com/jamesruggles/surfacewatch/internal/report"
	"github.com/jamesruggles/surfacewatch/internal/risk"
	"github.com/jamesruggles/surfacewatch/internal/scanner"
	"github.com/jamesruggles/surfacewatch/internal/telemetry"
)

type globalOptions struct {
	configPath string
	verbose    bool
	quiet      bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "surfacewatch",
		Short: "Track the network attack surface of your hosts over time",
		Long: `surfacewatch runs nmap against a target, records every port observation,
keeps a per-endpoint history, scores open services by risk and reports what
opened or closed since the previous scan of the same target.

Examples:
  surfacewatch scan 192.168.1.0/24 --profile full
  surfacewatch import scan.xml --target 10.0.0.5
  surfacewatch diff --current 12
  surfacewatch serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.verbose && opts.quiet {
				return errors.New("--verbose and --quiet are mutually exclusive")
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only log errors")

	cmd.AddCommand(
		newScanCmd(opts),
		newImportCmd(opts),
		newDiffCmd(opts),
		newHistoryCmd(opts),
		newScansCmd(opts),
		newProfilesCmd(),
		newServeCmd(opts),
	)
	return cmd
}

// Execute runs the command line against args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

// app holds what every command shares. Build it with open and release it
// with close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *database.DB
	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	closers []io.Closer
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// open loads configuration and builds the logger, the store and the
// metrics registry.
func (o *globalOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(cfg.Logging, logging.Options{
		Verbose: o.verbose,
		Quiet:   o.quiet,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.New(a.registry)
	return a, nil
}

// buildPipeline wires the nmap runner, scorer and report writer. broadcaster
// receives live nmap output and may be nil.
func (a *app) buildPipeline(broadcaster scanner.Broadcaster) *pipeline.Pipeline {
	cfg := a.cfg
	runner := scanner.NewRunner(scanner.RunnerConfig{
		NmapPath: cfg.Scan.NmapPath,
		ScansDir: cfg.Scan.ScansDir,
		Timeout:  cfg.Scan.Timeout,
	}, broadcaster, a.logger)

	scorer := risk.NewScorer(risk.Options{
		ServiceOverrides:   cfg.Risk.ServiceOverrides,
		ExtraBackdoorPorts: cfg.Risk.BackdoorPorts,
	})
	writer := report.NewWriter(cfg.Reports.Directory, cfg.Reports.FontPath, a.db, a.logger)
	return pipeline.New(a.db, runner, scorer, writer, pipeline.Options{
		Formats:     cfg.Reports.Formats,
		Broadcaster: broadcaster,
		Metrics:     a.metrics,
		Logger:      a.logger,
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}
