package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/dotcommander/cogsidecar/internal/window"
)

const (
	learnerMaxTurns     = 8
	learnerBudgetCapUSD = 0.50
	learnerMaxFieldLen  = 2000
	learnerSummaryLen   = 100
)

// learnerSystemPrompt is the fixed system prompt InitSession uses to start
// the Learner's persistent agent session.
const learnerSystemPrompt = `You are the learning role of a cognitive memory sidecar. Given a tool observation, decide whether it carries durable knowledge (a learning, an error and its fix, a reusable pattern) and, if so, persist it to the knowledge base using your own tools. Reply SKIP if the observation is trivial.`

type toolObservationPayload struct {
	ToolName     string `json:"toolName"`
	ToolInput    any    `json:"toolInput"`
	ToolResponse any    `json:"toolResponse"`
}

// Learner extracts durable knowledge from tool-observation messages via the
// agent's own tool calls. Unlike the Retriever, a busy Learner releases the
// message back to pending rather than skipping it — knowledge extraction is
// deferrable and must not be lost.
type Learner struct {
	db     *sql.DB
	cfg    Config
	win    *window.Window
	ag     Agent
	handle string
	busy   atomic.Bool
}

// NewLearner returns a Learner. SetHandle must be called once the caller's
// InitSession call for RoleLearner completes.
func NewLearner(db *sql.DB, cfg Config, win *window.Window, ag Agent) *Learner {
	return &Learner{db: db, cfg: cfg, win: win, ag: ag}
}

// SetHandle records the persistent agent session handle this worker resumes.
func (l *Learner) SetHandle(handle string) { l.handle = handle }

// Init starts the Learner's persistent agent session and records the
// returned handle.
func (l *Learner) Init(ctx context.Context, systemPrompt string) (string, error) {
	handle, err := l.ag.InitSession(ctx, systemPrompt, l.cfg.callOptions())
	if err != nil {
		return "", err
	}
	l.SetHandle(handle)
	return handle, nil
}

// Handle processes one tool-observation CognitiveMessage. Returns
// ErrWorkerBusy when the single in-flight slot is occupied; the caller must
// release the message to pending rather than mark it completed or failed.
func (l *Learner) Handle(ctx context.Context, msg models.CognitiveMessage) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrWorkerBusy
	}
	defer l.busy.Store(false)

	var obs toolObservationPayload
	if err := json.Unmarshal(msg.Payload, &obs); err != nil {
		return fmt.Errorf("malformed tool observation payload: %w", err)
	}

	input := truncateRunes(fmt.Sprint(obs.ToolInput), learnerMaxFieldLen)
	response := truncateRunes(fmt.Sprint(obs.ToolResponse), learnerMaxFieldLen)

	userMessage := fmt.Sprintf(
		"tool: %s\ninput: %s\nresponse: %s\n\nReply SKIP if this carries no durable knowledge.",
		obs.ToolName, input, response,
	)

	opts := l.cfg.callOptions()
	opts.MaxTurns = learnerMaxTurns
	opts.BudgetCapUSD = learnerBudgetCapUSD
	result, err := l.ag.Resume(ctx, l.handle, userMessage, opts)
	if err != nil {
		return fmt.Errorf("learner agent call: %w", err)
	}

	l.win.Append(models.WindowRoleAssistantSummary, truncateRunes(result.Text, learnerSummaryLen))
	return nil
}
