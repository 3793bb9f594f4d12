package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/cogsidecar/internal/output"
	"github.com/dotcommander/cogsidecar/internal/store"
)

// NewStatusCmd reports queue depths and the orchestrator state row for one
// session.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depths and orchestrator state for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := cmd.Flags().GetString("session-id")
			if err != nil || sessionID == "" {
				return cmdErr(errRequiredSessionID)
			}

			return withDB(func(db *DB) error {
				counts, err := store.GetStatusCounts(db, sessionID)
				if err != nil {
					return err
				}
				return output.PrintSuccess(counts)
			})
		},
	}
	cmd.Flags().String("session-id", "", "Session id to report on (required)")
	return cmd
}
