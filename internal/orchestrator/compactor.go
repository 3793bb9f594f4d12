package orchestrator

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/dotcommander/cogsidecar/internal/store"
)

const (
	bytesPerToken         = 6
	defaultTokenThreshold = 20000
	maxChunkChars         = 3000
	maxWindowChars        = 30000
	minResultChars        = 50
	compactorMaxTurns     = 10
	compactorBudgetCapUSD = 0.75
)

// compactorSystemPrompt is the fixed system prompt InitSession uses to start
// the Compactor's persistent agent session.
const compactorSystemPrompt = `You are the compaction role of a cognitive memory sidecar. You are given a window of recent conversation extracted from a session transcript and, if one exists, the previous structured session-state document. Produce an updated structured state document: append new append-only sections, replace volatile sections, and keep the document concise enough to seed a fresh context.`

// transcriptLine is the subset of a transcript entry the Compactor cares
// about; any other fields on the line are ignored.
type transcriptLine struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// chunk is one labelled, truncated conversational entry extracted from the
// transcript, with its byte offset for a future incremental-tailing pass.
type chunk struct {
	Label  string
	Text   string
	Offset int64
}

// Compactor periodically reads the session transcript and drives the agent
// to produce an updated SessionState document. Runs on its own timer,
// independent of queue polling, and shares no state with Retriever/Learner
// beyond the database.
type Compactor struct {
	db                  *sql.DB
	cfg                 Config
	tailDir             string
	ag                  Agent
	handle              string
	busy                atomic.Bool
	lastCompactedTokens int64
}

// NewCompactor returns a Compactor. SetHandle must be called once the
// caller's InitSession call for RoleCompactor completes.
func NewCompactor(db *sql.DB, cfg Config, tailDir string, ag Agent) *Compactor {
	return &Compactor{db: db, cfg: cfg, tailDir: tailDir, ag: ag, lastCompactedTokens: cfg.LastCompactTokens}
}

// SetHandle records the persistent agent session handle this worker resumes.
func (c *Compactor) SetHandle(handle string) { c.handle = handle }

// Init starts the Compactor's persistent agent session and records the
// returned handle.
func (c *Compactor) Init(ctx context.Context, systemPrompt string) (string, error) {
	handle, err := c.ag.InitSession(ctx, systemPrompt, c.cfg.callOptions())
	if err != nil {
		return "", err
	}
	c.SetHandle(handle)
	return handle, nil
}

// MaybeCompact runs the timer-triggered check: estimates cumulative tokens
// from the transcript's file size and compacts only if the estimate has
// grown by at least defaultTokenThreshold since the last compaction.
func (c *Compactor) MaybeCompact(ctx context.Context) error {
	if c.cfg.TranscriptPath == "" {
		return nil // no transcript configured; idle
	}

	info, err := os.Stat(c.cfg.TranscriptPath)
	if err != nil {
		slog.Warn("compactor transcript missing", "path", c.cfg.TranscriptPath, "error", err)
		return nil
	}

	estimate := info.Size() / bytesPerToken
	if estimate-c.lastCompactedTokens < defaultTokenThreshold {
		return nil
	}

	return c.compact(ctx, estimate)
}

// Handle processes an externally-enqueued compactor_trigger session-event,
// forcing compaction regardless of the token threshold. Shares the same busy
// flag as MaybeCompact so a timer tick and an external trigger never race.
func (c *Compactor) Handle(ctx context.Context, msg models.CognitiveMessage) error {
	if c.cfg.TranscriptPath == "" {
		return nil
	}
	info, err := os.Stat(c.cfg.TranscriptPath)
	if err != nil {
		slog.Warn("compactor transcript missing", "path", c.cfg.TranscriptPath, "error", err)
		return nil
	}
	return c.compact(ctx, info.Size()/bytesPerToken)
}

func (c *Compactor) compact(ctx context.Context, estimate int64) error {
	if !c.busy.CompareAndSwap(false, true) {
		return nil
	}
	defer c.busy.Store(false)

	chunks, err := extractChunks(c.cfg.TranscriptPath)
	if err != nil {
		return fmt.Errorf("extract transcript chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil // empty transcript idles without writing a row
	}

	windowed := windowChunks(chunks, maxWindowChars)

	prev, err := store.LatestSessionState(c.db, c.cfg.SessionID)
	if err != nil {
		return fmt.Errorf("lookup previous session state: %w", err)
	}

	prompt := composeCompactionPrompt(prev, windowed)
	opts := c.cfg.callOptions()
	opts.MaxTurns = compactorMaxTurns
	opts.BudgetCapUSD = compactorBudgetCapUSD
	result, err := c.ag.Resume(ctx, c.handle, prompt, opts)
	if err != nil {
		slog.Error("compactor agent call failed", "session_id", c.cfg.SessionID, "error", err)
		return nil // do not advance the cursor; retry next interval
	}

	text := strings.TrimSpace(result.Text)
	if len(text) < minResultChars {
		return nil
	}

	nextVersion := 1
	if prev != nil {
		nextVersion = prev.Version + 1
	}

	tailPath, err := writeTailFile(c.tailDir, c.cfg.SessionID, nextVersion, windowed)
	if err != nil {
		slog.Error("compactor tail file write failed", "session_id", c.cfg.SessionID, "error", err)
		return nil
	}

	if _, err := store.WriteSessionState(c.db, c.cfg.SessionID, c.cfg.ProjectSlug, text, tailPath, int(estimate)); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}

	c.lastCompactedTokens = estimate
	return nil
}

// extractChunks stream-parses the transcript line by line, emitting a
// labelled chunk for each well-formed user/assistant entry. Malformed or
// non-conversational lines are silently skipped.
func extractChunks(path string) ([]chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	var chunks []chunk
	var offset int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1 // account for the stripped newline
		startOffset := offset
		offset += lineLen

		if len(line) == 0 {
			continue
		}

		var entry transcriptLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // malformed line; skip
		}
		if entry.Text == "" {
			continue
		}

		var label string
		switch entry.Type {
		case "user":
			label = "USER"
		case "assistant":
			label = "CLAUDE"
		default:
			continue
		}

		chunks = append(chunks, chunk{
			Label:  label,
			Text:   truncateRunes(entry.Text, maxChunkChars),
			Offset: startOffset,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return chunks, nil
}

// windowChunks walks the chunk list backwards, collecting chunks until the
// running character total would exceed budget, and returns the resulting
// contiguous suffix in original order.
func windowChunks(chunks []chunk, budget int) []chunk {
	total := 0
	start := len(chunks)
	for start > 0 {
		candidate := chunks[start-1]
		next := total + len(candidate.Text)
		if next > budget && total > 0 {
			break
		}
		total = next
		start--
	}
	return chunks[start:]
}

// composeCompactionPrompt builds the agent user message: an "update" prompt
// referencing the previous state text when one exists, otherwise an
// "initial" prompt containing only the window.
func composeCompactionPrompt(prev *models.SessionState, windowed []chunk) string {
	var b strings.Builder
	for _, c := range windowed {
		fmt.Fprintf(&b, "[%s] %s\n", c.Label, c.Text)
	}
	transcript := b.String()

	if prev == nil {
		return fmt.Sprintf("This is the first compaction for this session. Recent conversation:\n\n%s", transcript)
	}
	return fmt.Sprintf(
		"Previous session state (version %d):\n\n%s\n\nNew conversation since then:\n\n%s\n\nProduce the updated state document.",
		prev.Version, prev.StateText, transcript,
	)
}

// writeTailFile writes the second half of windowed (the most recent chunks)
// to a per-session per-version file under tailDir, returning its path.
func writeTailFile(tailDir, sessionID string, version int, windowed []chunk) (string, error) {
	if err := os.MkdirAll(tailDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure tail dir: %w", err)
	}

	half := windowed[len(windowed)/2:]
	var b strings.Builder
	for _, c := range half {
		fmt.Fprintf(&b, "[%s] %s\n", c.Label, c.Text)
	}

	path := filepath.Join(tailDir, fmt.Sprintf("%s-v%d.txt", sessionID, version))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write tail file: %w", err)
	}
	return path, nil
}
