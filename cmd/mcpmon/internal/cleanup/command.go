// Package cleanup provides the mcpmon cleanup subcommand's place in the
// command tree: an external collaborator (spec.md §1 "explicitly out of
// scope: ... the orphan-cleanup utility subcommand") for the
// container-runtime labels the core's session labeler (C7) writes. This
// build does not query or remove containers; the command returns an error.
package cleanup

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Orphaned-container cleanup (not implemented in this build; exits with an error)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("cleanup: orphan container cleanup is not implemented by the core proxy")
		},
	}
}
