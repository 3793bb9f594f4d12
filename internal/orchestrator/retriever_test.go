package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/dotcommander/cogsidecar/internal/agent"
	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/dotcommander/cogsidecar/internal/store"
	"github.com/dotcommander/cogsidecar/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRetriever_Handle_WritesUnderCallerSuppliedFingerprint guards against
// the Retriever substituting its own hash of the prompt text: the retrieval
// row must be written under the exact promptFingerprint the message
// carried, since that's the value the waiting hook polls for.
func TestRetriever_Handle_WritesUnderCallerSuppliedFingerprint(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	fake := &fakeAgent{resumeResults: []agent.Result{{Outcome: agent.OutcomeOK, Text: "=== TEST CONTEXT ===\nrelevant thing\n"}}}
	win := window.New(5)
	r := NewRetriever(db, Config{SessionID: "sess-1"}, win, fake, time.Minute)
	r.SetHandle("handle-1")

	const callerFP = "abc123"
	msg := enqueueFixture(t, db, "sess-1", models.MessageKindPrompt, promptPayload{Prompt: "How do I configure X?", PromptFingerprint: callerFP})

	err := r.Handle(context.Background(), msg)
	require.NoError(t, err)

	got, err := store.LatestRetrieval(db, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, callerFP, got.PromptFP)
	assert.NotEqual(t, store.PromptFingerprint("How do I configure X?"), callerFP,
		"test fixture must not accidentally match the daemon's own hash")
}

// TestRetriever_Handle_BusySkipWritesUnderCallerSuppliedFingerprint covers
// the same contract on the busy-skip path.
func TestRetriever_Handle_BusySkipWritesUnderCallerSuppliedFingerprint(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	win := window.New(5)
	r := NewRetriever(db, Config{SessionID: "sess-1"}, win, &fakeAgent{}, time.Minute)
	r.SetHandle("handle-1")
	r.busy.Store(true)

	const callerFP = "xyz789"
	msg := enqueueFixture(t, db, "sess-1", models.MessageKindPrompt, promptPayload{Prompt: "irrelevant to the busy path", PromptFingerprint: callerFP})

	err := r.Handle(context.Background(), msg)
	require.NoError(t, err)

	got, err := store.LatestRetrieval(db, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, callerFP, got.PromptFP)
	assert.Equal(t, models.ContextTypeNone, got.ContextType)
}
