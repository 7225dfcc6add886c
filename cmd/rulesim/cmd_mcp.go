package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rulesim/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout so agents can
generate trees, draw samples, run experiments and list saved runs.

Tools: rulesim_generate_tree, rulesim_sample, rulesim_run, rulesim_runs.

Logs go to stderr; stdout carries protocol messages only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "rulesim",
				Version:  version,
				Settings: cfg,
				Logger:   newLogger(cmd, cfg),
			})
			if err != nil {
				return fmt.Errorf("failed to start MCP server: %w", err)
			}

			return server.Run(cmd.Context())
		},
	}
}
