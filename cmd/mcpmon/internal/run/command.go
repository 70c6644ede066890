// Package run implements the mcpmon run subcommand (spec.md §6 "CLI
// surface (collaborator)"): it assembles ProxyConfig from flags and
// environment, then hands it to pkg/engine, the only thing the core
// actually specifies.
package run

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/neilopet/mcpmon/pkg/config"
	"github.com/neilopet/mcpmon/pkg/engine"
	"github.com/neilopet/mcpmon/pkg/logger"
)

func NewRunCommand() *cobra.Command {
	var watch []string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Start the proxy and run the given MCP server under it",
		Args:  cobra.MinimumNArgs(1),
		Example: "  mcpmon run -- node server.js\n" +
			"  mcpmon run --watch src/ --watch config.json -- python server.py",
		RunE: func(cmd *cobra.Command, args []string) error {
			startedMS := time.Now().UnixMilli()

			cfg, err := config.Load(args[0], args[1:], startedMS)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if len(watch) > 0 {
				cfg.WatchPaths = watch
			}
			if verbose {
				cfg.Verbose = true
			}

			log := logger.New(os.Stderr, cfg.Verbose)
			eng := engine.New(cfg, os.Stdin, os.Stdout, os.Stderr, log, startedMS)

			code := eng.Run(context.Background())
			os.Exit(code)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&watch, "watch", nil, "path to watch for restarts (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log debug-level messages to stderr")

	return cmd
}
