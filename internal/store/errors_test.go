package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVersionConflictError_Is verifies errors.Is matches the sentinel through
// direct and wrapped forms, and does not cross-match an unrelated error.
func TestVersionConflictError_Is(t *testing.T) {
	version := &VersionConflictError{Entity: "orchestrator_state", ID: "sess-1", Version: 3}

	assert.ErrorIs(t, version, ErrVersionConflict)
	assert.False(t, errors.Is(version, errors.New("database is locked")))

	wrapped := fmt.Errorf("claim failed: %w", version)
	assert.ErrorIs(t, wrapped, ErrVersionConflict)

	doubleWrapped := fmt.Errorf("level2: %w", fmt.Errorf("level1: %w", version))
	assert.ErrorIs(t, doubleWrapped, ErrVersionConflict)
}

func TestVersionConflictError_ErrorCode(t *testing.T) {
	e := &VersionConflictError{Entity: "cognitive_messages", ID: "42", Version: 1}
	assert.Equal(t, "VERSION_CONFLICT", e.ErrorCode())
}

func TestVersionConflictError_Context(t *testing.T) {
	e := &VersionConflictError{Entity: "cognitive_messages", ID: "42", Version: 7}
	ctx := e.Context()
	require.Contains(t, ctx, "entity")
	require.Contains(t, ctx, "id")
	require.Contains(t, ctx, "version")
	assert.Equal(t, "cognitive_messages", ctx["entity"])
	assert.Equal(t, "42", ctx["id"])
	assert.Equal(t, "7", ctx["version"])
}

func TestVersionConflictError_SuggestedAction(t *testing.T) {
	e := &VersionConflictError{Entity: "cognitive_messages", ID: "42", Version: 1}
	assert.NotEmpty(t, e.SuggestedAction())
}

func TestVersionConflictError_ErrorMessage(t *testing.T) {
	e := &VersionConflictError{Entity: "cognitive_messages", ID: "42", Version: 1}
	assert.Equal(t, ErrVersionConflict.Error(), e.Error())
}

func TestStaleClaimError(t *testing.T) {
	e := &StaleClaimError{MessageID: 99, SessionID: "sess-abc"}

	assert.Equal(t, "STALE_CLAIM", e.ErrorCode())
	assert.Equal(t, "cognitive message stuck in processing", e.Error())

	ctx := e.Context()
	require.Contains(t, ctx, "message_id")
	require.Contains(t, ctx, "session_id")
	assert.Equal(t, "99", ctx["message_id"])
	assert.Equal(t, "sess-abc", ctx["session_id"])

	assert.Contains(t, e.SuggestedAction(), "sess-abc")
}

// Both error types must satisfy RecoverableError.
func TestErrors_SatisfyRecoverableError(t *testing.T) {
	var _ RecoverableError = &VersionConflictError{}
	var _ RecoverableError = &StaleClaimError{}
}
