package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - CognitiveMessage, RetrievalResult, SessionState use int64 (monotonic
//   ordering, auto-increment) — they are append-mostly queue/log rows.
// - OrchestratorState is keyed by session id (string) — one row per session,
//   upserted in place across the daemon's lifetime.

// MessageKind identifies the origin of a CognitiveMessage.
type MessageKind string

// Cognitive message kind constants.
const (
	MessageKindPrompt          MessageKind = "prompt"
	MessageKindToolObservation MessageKind = "tool-observation"
	MessageKindSessionEvent    MessageKind = "session-event"
)

// MessageStatus represents the current state of a CognitiveMessage.
type MessageStatus string

// Cognitive message status constants. Transitions are monotone:
// pending -> processing -> {completed, failed}.
const (
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusCompleted  MessageStatus = "completed"
	MessageStatusFailed     MessageStatus = "failed"
)

// IsTerminal returns true if the message has reached a terminal status.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageStatusCompleted || s == MessageStatusFailed
}

// IsPending returns true if the message is awaiting a claim.
func (s MessageStatus) IsPending() bool {
	return s == MessageStatusPending
}

// CognitiveMessage is a work item produced by the interactive session and
// claimed by the Supervisor in FIFO batches.
type CognitiveMessage struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      MessageKind     `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Status    MessageStatus   `json:"status"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsOwnedBy reports whether a processing message is owned by the given
// session id — a processing row is always owned by the daemon whose session
// id it bears, so this is a same-session check rather than a claim lookup.
func (m *CognitiveMessage) IsOwnedBy(sessionID string) bool {
	return m.Status == MessageStatusProcessing && m.SessionID == sessionID
}

// ContextType describes what kind of context a RetrievalResult carries.
type ContextType string

// Retrieval result context-type constants.
const (
	ContextTypeMemoryResults ContextType = "memory-results"
	ContextTypeNone          ContextType = "none"
)

// RetrievalResult is the Retriever's reply to one prompt message. Exactly one
// is written per accepted prompt message, including a "none" result on
// fast-exit or busy-skip, so the hook waiting on it never hangs.
type RetrievalResult struct {
	ID          int64       `json:"id"`
	SessionID   string      `json:"session_id"`
	PromptFP    string      `json:"prompt_fp"`
	ContextType ContextType `json:"context_type"`
	ContextText string      `json:"context_text,omitempty"`
	Relevance   float64     `json:"relevance"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// IsExpired returns true if the result's freshness window has passed.
func (r *RetrievalResult) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// HasContext returns true if the result carries retrieved memory context.
func (r *RetrievalResult) HasContext() bool {
	return r.ContextType == ContextTypeMemoryResults
}

// OrchestratorStatus represents the lifecycle state of a daemon instance.
type OrchestratorStatus string

// Orchestrator status constants. At most one row per session id may hold a
// status in {starting, running}.
const (
	OrchestratorStatusStarting OrchestratorStatus = "starting"
	OrchestratorStatusRunning  OrchestratorStatus = "running"
	OrchestratorStatusStopping OrchestratorStatus = "stopping"
	OrchestratorStatusStopped  OrchestratorStatus = "stopped"
	OrchestratorStatusCrashed  OrchestratorStatus = "crashed"
)

// IsLive returns true if the status represents an active daemon instance.
func (s OrchestratorStatus) IsLive() bool {
	return s == OrchestratorStatusStarting || s == OrchestratorStatusRunning
}

// IsTerminal returns true if the status will never transition further without
// a fresh startup.
func (s OrchestratorStatus) IsTerminal() bool {
	return s == OrchestratorStatusStopped || s == OrchestratorStatusCrashed
}

// OrchestratorState is the single row per session id tracking a daemon
// instance's lifecycle, per-role enablement, and heartbeat.
type OrchestratorState struct {
	SessionID        string             `json:"session_id"`
	PID              int                `json:"pid"`
	Status           OrchestratorStatus `json:"status"`
	RetrieverEnabled bool               `json:"retriever_enabled"`
	LearnerEnabled   bool               `json:"learner_enabled"`
	CompactorEnabled bool               `json:"compactor_enabled"`
	RetrieverHandle  string             `json:"retriever_handle,omitempty"`
	LearnerHandle    string             `json:"learner_handle,omitempty"`
	CompactorHandle  string             `json:"compactor_handle,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	LastHeartbeatAt  time.Time          `json:"last_heartbeat_at"`
	StoppedAt        *time.Time         `json:"stopped_at,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	Version          int                `json:"version"`
}

// IsStale reports whether the state's heartbeat is older than window,
// relative to now — the signal a later daemon instance uses to reap a
// crashed session.
func (o *OrchestratorState) IsStale(now time.Time, window time.Duration) bool {
	return o.Status.IsLive() && now.Sub(o.LastHeartbeatAt) > window
}

// SessionState is a versioned structured document produced by the Compactor.
// Versions per session id are contiguous starting at 1.
type SessionState struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	ProjectTag    string    `json:"project_tag,omitempty"`
	StateText     string    `json:"state_text"`
	TailFilePath  string    `json:"tail_file_path"`
	TokenEstimate int       `json:"token_estimate"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
}

// WindowRole tags a SlidingWindow entry by who produced it.
type WindowRole string

// Sliding window role constants.
const (
	WindowRoleUser             WindowRole = "user"
	WindowRoleAssistantSummary WindowRole = "assistant-summary"
)

// WindowEntry is a single immutable entry in a SlidingWindow.
type WindowEntry struct {
	Role WindowRole `json:"role"`
	Text string     `json:"text"`
}
