package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/cogsidecar/internal/app"
	"github.com/dotcommander/cogsidecar/internal/output"
	"github.com/dotcommander/cogsidecar/internal/store"
)

// NewDoctorCmd checks database connectivity and reports consistency findings
// (stale processing messages, orchestrator rows abandoned by a crashed
// daemon). Read-only: it never reaps or mutates what it finds.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check database connectivity and report stale state",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dbSource, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			var (
				dbOK     bool
				dbErr    string
				queryOK  bool
				queryErr string
			)

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				dbErr = err.Error()
			} else {
				dbOK = true
				defer func() { _ = db.Close() }()
			}

			if dbOK {
				var one int
				if err := db.QueryRow("SELECT 1").Scan(&one); err != nil {
					queryErr = err.Error()
				} else {
					queryOK = true
				}
			} else {
				queryErr = "db not available"
			}

			var diags []store.Diagnostic
			if dbOK && queryOK {
				diags, err = store.RunDiagnostics(db)
				if err != nil {
					return cmdErr(err)
				}
			}

			type resp struct {
				DBPath     string            `json:"db_path"`
				DBSource   string            `json:"db_source"`
				DBOK       bool              `json:"db_ok"`
				DBErr      string            `json:"db_error,omitempty"`
				QueryOK    bool              `json:"query_ok"`
				QueryErr   string            `json:"query_error,omitempty"`
				Hint       string            `json:"hint,omitempty"`
				Diagnostics []store.Diagnostic `json:"diagnostics"`
			}
			hint := ""
			if !dbOK {
				hint = "If this is running in a sandboxed environment, set db_path to a writable location or use --db-path."
			}
			return output.PrintSuccess(resp{
				DBPath:      dbPath,
				DBSource:    dbSource,
				DBOK:        dbOK,
				DBErr:       dbErr,
				QueryOK:     queryOK,
				QueryErr:    queryErr,
				Hint:        hint,
				Diagnostics: diags,
			})
		},
	}

	return cmd
}
