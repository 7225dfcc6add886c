package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/visualization"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse saved runs over HTTP",
		Long: `Start a local HTTP server listing saved runs, with JSON, CSV and DOT
endpoints for each run. Blocks until Ctrl-C.

Endpoints:
  /                              HTML run index
  /api/runs                      run summaries
  /api/runs/{id}                 full report
  /api/runs/{id}/curve           accuracy curve (?format=csv for CSV)
  /api/runs/{id}/tree.dot        tree as Graphviz DOT
  /api/runs/{id}/tree.json       tree nodes as JSON

Examples:
  rulesim serve --open
  rulesim serve --addr localhost:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			open, _ := cmd.Flags().GetBool("open")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer runs.Close()

			srv := visualization.NewServer(runs, newLogger(cmd, cfg))

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(ctx, addr) }()

			// Wait for server to start
			deadline := time.Now().Add(3 * time.Second)
			for time.Now().Before(deadline) && srv.Addr() == "" {
				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("server error: %w", err)
					}
					return nil
				case <-time.After(10 * time.Millisecond):
				}
			}

			listen := srv.Addr()
			if listen == "" {
				return fmt.Errorf("server failed to start")
			}

			url := "http://" + listen
			fmt.Fprintf(cmd.OutOrStdout(), "Serving runs at %s\n", url)
			fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

			if open {
				if err := visualization.OpenBrowser(url); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
				}
			}

			if err := <-errCh; err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:0", "Listen address (port 0 picks a free port)")
	cmd.Flags().Bool("open", false, "Open the run index in a browser")
	return cmd
}
