package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jamesruggles/surfacewatch/internal/pipeline"
	"github.com/jamesruggles/surfacewatch/internal/scanner"
	"github.com/jamesruggles/surfacewatch/internal/tools"
)

// consoleOutput echoes live nmap output to the terminal.
type consoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleOutput) Broadcast(_ int64, line tools.OutputLine) {
	if line.Done || line.Line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line.Line)
}

type scanOptions struct {
	profile string
	dryRun  bool
	asJSON  bool
}

func newScanCmd(g *globalOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Run nmap against a target and record the results",
		Long: `Run nmap with a named profile, ingest the results, compare them with the
previous completed scan of the same target and write reports.

The target defaults to scan.default_target from the config file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var broadcaster scanner.Broadcaster
			if !g.quiet {
				broadcaster = &consoleOutput{w: cmd.ErrOrStderr()}
			}

			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			p := a.buildPipeline(broadcaster)

			target := a.cfg.Scan.DefaultTarget
			if len(args) == 1 {
				target = args[0]
			}
			profile := opts.profile
			if profile == "" {
				profile = a.cfg.Scan.DefaultProfile
			}

			ctx := cmd.Context()
			if opts.dryRun {
				res, err := p.DryRun(ctx, target, profile)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Command)
				return nil
			}

			run, err := p.Begin(ctx, target, profile)
			if err != nil {
				return err
			}
			out, err := run.Execute(ctx)
			if err != nil {
				return fmt.Errorf("scan %d: %w", run.Scan.ID, err)
			}
			return writeOutcome(cmd.OutOrStdout(), out, opts.asJSON)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.profile, "profile", "p", "", "scan profile (default from config)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the nmap command without running it")
	flags.BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	return cmd
}

type importOptions struct {
	target  string
	profile string
	asJSON  bool
}

func newImportCmd(g *globalOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <nmap.xml>",
		Short: "Record an existing nmap XML file as a scan of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			profile := opts.profile
			if profile == "" {
				profile = a.cfg.Scan.DefaultProfile
			}
			out, err := a.buildPipeline(nil).Import(cmd.Context(), opts.target, profile, args[0])
			if err != nil {
				return err
			}
			return writeOutcome(cmd.OutOrStdout(), out, opts.asJSON)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.target, "target", "t", "", "target the file was scanned against")
	flags.StringVarP(&opts.profile, "profile", "p", "", "profile to record (default from config)")
	flags.BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	cmd.MarkFlagRequired("target")
	return cmd
}

func writeOutcome(w io.Writer, out *pipeline.Outcome, asJSON bool) error {
	if asJSON {
		return writeJSON(w, out)
	}
	return printOutcome(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
