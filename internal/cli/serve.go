package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jamesruggles/surfacewatch/internal/server"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, live scan output and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if addr != "" {
				host, portStr, err := net.SplitHostPort(addr)
				if err != nil {
					return fmt.Errorf("--addr: %w", err)
				}
				port, err := strconv.Atoi(portStr)
				if err != nil || port < 0 || port > 65535 {
					return fmt.Errorf("--addr: invalid port %q", portStr)
				}
				a.cfg.Server.Host, a.cfg.Server.Port = host, port
			}

			hub := server.NewHub(a.logger, a.metrics)
			srv := server.New(a.cfg, a.db, a.buildPipeline(hub), hub, server.Options{
				Metrics:  a.metrics,
				Gatherer: a.registry,
				Logger:   a.logger,
			})
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port (default from config)")
	return cmd
}
