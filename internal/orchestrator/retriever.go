package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/dotcommander/cogsidecar/internal/store"
	"github.com/dotcommander/cogsidecar/internal/window"
)

const (
	retrieverMaxTurns       = 5
	retrieverBudgetCapUSD   = 0.25
	retrieverSkipThreshold  = 20
	retrieverSummaryPreview = 100
)

const skipDirective = `If you have no relevant prior knowledge for this prompt, reply with exactly SKIP and nothing else.`

// retrieverSystemPrompt is the fixed system prompt InitSession uses to start
// the Retriever's persistent agent session.
const retrieverSystemPrompt = `You are the retrieval role of a cognitive memory sidecar. Given a user prompt and recent conversation context, search the knowledge base for relevant prior knowledge and reply with a concise context block, or SKIP if nothing is relevant.`

type promptPayload struct {
	Prompt            string `json:"prompt"`
	PromptFingerprint string `json:"promptFingerprint"`
}

// Retriever produces a RetrievalResult for every accepted prompt message,
// busy-skipping to a "none" result rather than blocking the waiting hook.
type Retriever struct {
	db     *sql.DB
	cfg    Config
	win    *window.Window
	ag     Agent
	handle string
	ttl    time.Duration
	busy   atomic.Bool
}

// NewRetriever returns a Retriever. SetHandle must be called once the
// caller's InitSession call for RoleRetriever completes.
func NewRetriever(db *sql.DB, cfg Config, win *window.Window, ag Agent, ttl time.Duration) *Retriever {
	return &Retriever{db: db, cfg: cfg, win: win, ag: ag, ttl: ttl}
}

// SetHandle records the persistent agent session handle this worker resumes.
func (r *Retriever) SetHandle(handle string) { r.handle = handle }

// Init starts the Retriever's persistent agent session and records the
// returned handle.
func (r *Retriever) Init(ctx context.Context, systemPrompt string) (string, error) {
	handle, err := r.ag.InitSession(ctx, systemPrompt, r.cfg.callOptions())
	if err != nil {
		return "", err
	}
	r.SetHandle(handle)
	return handle, nil
}

// Handle processes one prompt-kind CognitiveMessage. It never returns an
// error for agent failures — those collapse into a "none" result so the
// waiting hook always finds a row. A non-nil error here means the payload
// itself was malformed or the retrieval row could not be written.
func (r *Retriever) Handle(ctx context.Context, msg models.CognitiveMessage) error {
	var p promptPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return fmt.Errorf("malformed prompt payload: %w", err)
	}

	if !r.busy.CompareAndSwap(false, true) {
		_, err := store.WriteRetrieval(r.db, r.cfg.SessionID, p.PromptFingerprint, models.ContextTypeNone, "", 0, r.ttl)
		if err != nil {
			slog.Error("retriever busy-skip write failed", "session_id", r.cfg.SessionID, "error", err)
		}
		return nil
	}
	defer r.busy.Store(false)

	r.win.Append(models.WindowRoleUser, p.Prompt)

	userMessage := fmt.Sprintf("%s\n\nRecent conversation:\n%s\n\n%s", p.Prompt, r.win.Format(), skipDirective)

	opts := r.cfg.callOptions()
	opts.MaxTurns = retrieverMaxTurns
	opts.BudgetCapUSD = retrieverBudgetCapUSD
	result, err := r.ag.Resume(ctx, r.handle, userMessage, opts)
	if err != nil {
		slog.Error("retriever agent call failed", "session_id", r.cfg.SessionID, "error", err)
		_, werr := store.WriteRetrieval(r.db, r.cfg.SessionID, p.PromptFingerprint, models.ContextTypeNone, "", 0, r.ttl)
		return werr
	}

	text := strings.TrimSpace(result.Text)
	useful := text != "" && strings.ToUpper(text) != "SKIP" && len(text) >= retrieverSkipThreshold

	if !useful {
		_, err := store.WriteRetrieval(r.db, r.cfg.SessionID, p.PromptFingerprint, models.ContextTypeNone, "", 0, r.ttl)
		return err
	}

	if _, err := store.WriteRetrieval(r.db, r.cfg.SessionID, p.PromptFingerprint, models.ContextTypeMemoryResults, text, 0.8, r.ttl); err != nil {
		return err
	}
	r.win.Append(models.WindowRoleAssistantSummary, truncateRunes(text, retrieverSummaryPreview))
	return nil
}
