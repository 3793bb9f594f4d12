package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/cogsidecar/internal/app"
	"github.com/dotcommander/cogsidecar/internal/output"
	"github.com/dotcommander/cogsidecar/internal/store"
)

// NewMigrateCmd applies any pending schema migrations and reports the
// resulting schema version.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = db.Close() }()

			if err := store.MigrateDB(db, dbPath); err != nil {
				return cmdErr(err)
			}

			current, latest, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				DBPath         string `json:"db_path"`
				SchemaVersion  int64  `json:"schema_version"`
				LatestVersion  int64  `json:"latest_version"`
			}
			return output.PrintSuccess(resp{DBPath: dbPath, SchemaVersion: current, LatestVersion: latest})
		},
	}
	return cmd
}
