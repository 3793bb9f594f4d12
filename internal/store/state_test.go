package store

import (
	"testing"

	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertStateStart_CreatesStartingRow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s, err := UpsertStateStart(db, "sess-1", 1234, true, true, false)
	require.NoError(t, err)
	assert.Equal(t, models.OrchestratorStatusStarting, s.Status)
	assert.Equal(t, 1234, s.PID)
	assert.True(t, s.RetrieverEnabled)
	assert.True(t, s.LearnerEnabled)
	assert.False(t, s.CompactorEnabled)
	assert.Equal(t, 0, s.Version)
}

func TestUpsertStateStart_ReplacesPriorRowForSameSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := UpsertStateStart(db, "sess-1", 111, true, true, true)
	require.NoError(t, err)
	require.NoError(t, MarkCrashed(db, "sess-1", "boom"))

	s, err := UpsertStateStart(db, "sess-1", 222, true, false, true)
	require.NoError(t, err)
	assert.Equal(t, 222, s.PID)
	assert.Equal(t, models.OrchestratorStatusStarting, s.Status)
	assert.Empty(t, s.ErrorMessage)
	assert.Equal(t, 1, s.Version)
}

func TestUpdateStateRunning_SetsHandlesAndStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := UpsertStateStart(db, "sess-1", 1, true, true, true)
	require.NoError(t, err)

	require.NoError(t, UpdateStateRunning(db, "sess-1", "r-handle", "l-handle", "c-handle"))

	s, err := LookupState(db, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, models.OrchestratorStatusRunning, s.Status)
	assert.Equal(t, "r-handle", s.RetrieverHandle)
	assert.Equal(t, "l-handle", s.LearnerHandle)
	assert.Equal(t, "c-handle", s.CompactorHandle)
}

func TestTouchHeartbeat_AdvancesTimestamp(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := UpsertStateStart(db, "sess-1", 1, true, true, true)
	require.NoError(t, err)
	before, err := LookupState(db, "sess-1")
	require.NoError(t, err)

	require.NoError(t, TouchHeartbeat(db, "sess-1"))

	after, err := LookupState(db, "sess-1")
	require.NoError(t, err)
	assert.True(t, !after.LastHeartbeatAt.Before(before.LastHeartbeatAt))
}

func TestTouchHeartbeat_ErrorsOnTerminalSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := UpsertStateStart(db, "sess-1", 1, true, true, true)
	require.NoError(t, err)
	require.NoError(t, MarkStopped(db, "sess-1"))

	err = TouchHeartbeat(db, "sess-1")
	assert.Error(t, err)
}

func TestMarkStopped_SetsTerminalStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := UpsertStateStart(db, "sess-1", 1, true, true, true)
	require.NoError(t, err)
	require.NoError(t, MarkStopped(db, "sess-1"))

	s, err := LookupState(db, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrchestratorStatusStopped, s.Status)
	assert.NotNil(t, s.StoppedAt)
}

func TestMarkCrashed_RecordsErrorMessage(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := UpsertStateStart(db, "sess-1", 1, true, true, true)
	require.NoError(t, err)
	require.NoError(t, MarkCrashed(db, "sess-1", "agent adapter exited 1"))

	s, err := LookupState(db, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrchestratorStatusCrashed, s.Status)
	assert.Equal(t, "agent adapter exited 1", s.ErrorMessage)
}

func TestLookupState_ReturnsNilForUnknownSession(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	s, err := LookupState(db, "never-started")
	require.NoError(t, err)
	assert.Nil(t, s)
}
