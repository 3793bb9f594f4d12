// Package orchestrator implements the Supervisor loop and the three worker
// roles (Retriever, Learner, Compactor) that process a single session's
// cognitive queue against a persistent agent session each.
package orchestrator

import (
	"context"
	"errors"

	"github.com/dotcommander/cogsidecar/internal/agent"
)

// Role identifies one of the three worker roles a daemon instance runs.
type Role string

// Role constants.
const (
	RoleRetriever Role = "retriever"
	RoleLearner   Role = "learner"
	RoleCompactor Role = "compactor"
)

// Agent is the subset of *agent.Adapter the orchestrator depends on. Tests
// substitute a fake implementation so role logic runs without a real CLI
// subprocess.
type Agent interface {
	InitSession(ctx context.Context, systemPrompt string, opts agent.CallOptions) (string, error)
	Resume(ctx context.Context, handle, userMessage string, opts agent.CallOptions) (agent.Result, error)
}

// AgentFactory builds the Agent for a role at startup, letting the caller
// choose the CLI binary (or a fake, in tests) per role.
type AgentFactory func(role Role) (Agent, error)

// ErrWorkerBusy signals that a role's single in-flight slot was occupied and
// the caller must release the message back to pending rather than mark it
// completed or failed. Only the Learner uses this path; the Retriever uses
// busy-skip instead (see Retriever.Handle).
var ErrWorkerBusy = errors.New("worker busy")

// Config carries the CLI-supplied invocation parameters for one daemon
// instance, per spec.md §6.
type Config struct {
	SessionID         string
	CWD               string
	RetrieverEnabled  bool
	LearnerEnabled    bool
	CompactorEnabled  bool
	MCPServer         string
	PythonPath        string
	TranscriptPath    string
	ProjectSlug       string
	LastCompactTokens int64

	PollIntervalSeconds           int
	HeartbeatIntervalSeconds      int
	CompactorCheckIntervalSeconds int
	WindowPairs                   int
	RetrievalTTLSeconds           int
}

// callOptions builds the agent.CallOptions fields every role call site
// shares: working directory and the opaque MCP/interpreter settings passed
// through from the CLI invocation, per spec.md §6.
func (c Config) callOptions() agent.CallOptions {
	return agent.CallOptions{Dir: c.CWD, MCPServer: c.MCPServer, PythonPath: c.PythonPath}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
