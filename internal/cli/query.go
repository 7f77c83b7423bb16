package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesruggles/surfacewatch/internal/changes"
	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/jamesruggles/surfacewatch/internal/scanner"
)

type diffOptions struct {
	baseline int64
	current  int64
	asJSON   bool
}

func newDiffCmd(g *globalOptions) *cobra.Command {
	opts := &diffOptions{}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show endpoints that opened or closed between two scans",
		Long: `Compare the open endpoints of two scans. Without --baseline the previous
completed scan of the current scan's target is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			baseline := opts.baseline
			if baseline == 0 {
				scan, err := a.db.GetScan(ctx, opts.current)
				if err != nil {
					return err
				}
				if scan == nil {
					return fmt.Errorf("scan %d not found", opts.current)
				}
				prev, err := a.db.LastCompletedScan(ctx, scan.Target, scan.ID)
				if err != nil {
					return err
				}
				if prev == nil {
					return fmt.Errorf("no completed scan of %s before scan %d", scan.Target, scan.ID)
				}
				baseline = prev.ID
			}

			cs, err := changes.NewDetector(a.db).Diff(ctx, baseline, opts.current)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), cs)
			}
			printChanges(cmd.OutOrStdout(), &cs)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&opts.baseline, "baseline", 0, "baseline scan id (default: previous completed scan)")
	flags.Int64Var(&opts.current, "current", 0, "current scan id")
	flags.BoolVar(&opts.asJSON, "json", false, "print the change set as JSON")
	cmd.MarkFlagRequired("current")
	return cmd
}

type historyOptions struct {
	host     string
	port     int
	protocol string
	asJSON   bool
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	opts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the port history ledger",
		Long: `List every endpoint the ledger tracks, optionally for one host. With --port
show the single record for host, port and protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.port != 0 && opts.host == "" {
				return errors.New("--port requires --host")
			}

			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			var recs []database.PortHistory
			if opts.port != 0 {
				key := database.PortKey{Host: opts.host, Port: opts.port, Protocol: opts.protocol}
				rec, err := a.db.LookupHistory(ctx, key)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("%s was never seen open", key)
				}
				recs = []database.PortHistory{*rec}
			} else {
				recs, err = a.db.ListHistory(ctx, opts.host)
				if err != nil {
					return err
				}
			}

			if opts.asJSON {
				if recs == nil {
					recs = []database.PortHistory{}
				}
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			return printHistory(cmd.OutOrStdout(), recs)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "", "only this host")
	flags.IntVar(&opts.port, "port", 0, "single endpoint port (requires --host)")
	flags.StringVar(&opts.protocol, "protocol", string(events.ProtocolTCP), "endpoint protocol")
	flags.BoolVar(&opts.asJSON, "json", false, "print as JSON")
	return cmd
}

type scansOptions struct {
	target string
	limit  int
	asJSON bool
}

func newScansCmd(g *globalOptions) *cobra.Command {
	opts := &scansOptions{}

	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List recorded scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			scans, err := a.db.ListScans(cmd.Context(), opts.target, opts.limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				if scans == nil {
					scans = []database.Scan{}
				}
				return writeJSON(cmd.OutOrStdout(), scans)
			}
			return printScans(cmd.OutOrStdout(), scans)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.target, "target", "t", "", "only scans of this target")
	flags.IntVarP(&opts.limit, "limit", "n", 50, "maximum number of scans")
	flags.BoolVar(&opts.asJSON, "json", false, "print as JSON")
	return cmd
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the available scan profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := [][]string{{"Profile", "Description", "nmap flags"}}
			for _, p := range scanner.Profiles() {
				rows = append(rows, []string{p.Name, p.Description, strings.Join(p.Flags, " ")})
			}
			return renderTable(cmd.OutOrStdout(), rows)
		},
	}
}
