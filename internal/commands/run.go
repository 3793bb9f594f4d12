package commands

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotcommander/cogsidecar/internal/agent"
	"github.com/dotcommander/cogsidecar/internal/app"
	"github.com/dotcommander/cogsidecar/internal/orchestrator"
	"github.com/dotcommander/cogsidecar/internal/output"
	"github.com/dotcommander/cogsidecar/internal/store"
)

// NewRunCmd starts the orchestrator daemon for one session and blocks until
// it shuts down cleanly or a fatal error occurs.
func NewRunCmd() *cobra.Command {
	var (
		cwd              string
		retriever        bool
		learner          bool
		compactor        bool
		mcpServer        string
		pythonPath       string
		transcriptPath   string
		projectSlug      string
		lastCompactSize  int64
		agentName        string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the orchestrator daemon for one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := cmd.Flags().GetString("session-id")
			if err != nil || sessionID == "" {
				return cmdErr(errRequiredSessionID)
			}

			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}
			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = db.Close() }()

			settings := app.EffectiveSupervisorSettings()
			cfg := orchestrator.Config{
				SessionID:                     sessionID,
				CWD:                           cwd,
				RetrieverEnabled:              retriever,
				LearnerEnabled:                learner,
				CompactorEnabled:              compactor,
				MCPServer:                     mcpServer,
				PythonPath:                    pythonPath,
				TranscriptPath:                transcriptPath,
				ProjectSlug:                   projectSlug,
				LastCompactTokens:             lastCompactSize,
				PollIntervalSeconds:           settings.PollIntervalSeconds,
				HeartbeatIntervalSeconds:      settings.HeartbeatIntervalSeconds,
				CompactorCheckIntervalSeconds: settings.CompactorCheckIntervalSeconds,
				WindowPairs:                   settings.WindowPairs,
				RetrievalTTLSeconds:           settings.RetrievalTTLSeconds,
			}

			factory := func(role orchestrator.Role) (orchestrator.Agent, error) {
				return agent.NewAdapter(agentName)
			}

			configDir, err := app.ConfigDir()
			if err != nil {
				return cmdErr(err)
			}
			tailDir := filepath.Join(configDir, "tails")

			sup, err := orchestrator.NewSupervisor(db, cfg, factory, tailDir)
			if err != nil {
				return cmdErr(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if runErr := sup.Run(ctx); runErr != nil {
				return cmdErr(runErr)
			}

			return output.PrintSuccess(map[string]string{"session_id": sessionID, "status": "stopped"})
		},
	}

	cmd.Flags().String("session-id", "", "Session id this daemon instance owns (required)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory for the agent CLI subprocess")
	cmd.Flags().BoolVar(&retriever, "retriever", true, "Enable the Retriever worker")
	cmd.Flags().BoolVar(&learner, "learner", true, "Enable the Learner worker")
	cmd.Flags().BoolVar(&compactor, "compactor", true, "Enable the Compactor worker")
	cmd.Flags().StringVar(&mcpServer, "mcp-server", "", "MCP server the agent subprocess should attach to")
	cmd.Flags().StringVar(&pythonPath, "python-path", "", "Python interpreter path for tooling the agent subprocess invokes")
	cmd.Flags().StringVar(&transcriptPath, "transcript-path", "", "Path to the session transcript the Compactor reads")
	cmd.Flags().StringVar(&projectSlug, "project-slug", "", "Project identifier stamped onto SessionState rows")
	cmd.Flags().Int64Var(&lastCompactSize, "last-compact-size", 0, "Token estimate the Compactor last compacted up to, for resume")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent CLI to drive (default: claude)")

	return cmd
}
