// Package version implements the mcpmon version subcommand.
package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the mcpmon release version, overridden at build time via
// -ldflags "-X .../version.Version=...".
var Version = "dev"

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpmon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("mcpmon " + Version)
			return nil
		},
	}
}
