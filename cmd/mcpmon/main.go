// mcpmon - transparent hot-reload proxy for MCP servers over stdio.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/neilopet/mcpmon/cmd/mcpmon/internal/cleanup"
	"github.com/neilopet/mcpmon/cmd/mcpmon/internal/run"
	"github.com/neilopet/mcpmon/cmd/mcpmon/internal/setup"
	"github.com/neilopet/mcpmon/cmd/mcpmon/internal/version"
)

func NewMcpmonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcpmon <subcommand>",
		Short: "Transparent hot-reload proxy for MCP servers over stdio",
		Example: "  mcpmon run -- node server.js\n" +
			"  mcpmon run --watch src/ -- python server.py\n" +
			"  mcpmon setup\n" +
			"  mcpmon cleanup",
	}

	cmd.AddCommand(
		run.NewRunCommand(),
		setup.NewSetupCommand(),
		cleanup.NewCleanupCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewMcpmonCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
