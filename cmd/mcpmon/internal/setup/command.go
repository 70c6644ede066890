// Package setup implements the mcpmon setup subcommand: an external
// collaborator (spec.md §1 "explicitly out of scope: ... the setup
// subcommand that rewrites external client configuration files") that the
// core only needs to know exists as a sibling subcommand.
package setup

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSetupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "MCP client configuration rewriting (not implemented in this build; exits with an error)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("setup: rewriting client configuration files is not implemented by the core proxy")
		},
	}
}
