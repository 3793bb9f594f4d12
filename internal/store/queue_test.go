package store

import (
	"testing"

	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueMessage_StartsPendingAtVersionZero(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	msg, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, msg.Status)
	assert.Equal(t, 0, msg.Version)
	assert.Equal(t, "sess-1", msg.SessionID)
}

func TestClaimPending_ClaimsFIFOAndFlipsToProcessing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	var ids []int64
	for i := 0; i < 3; i++ {
		msg, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	claimed, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, msg := range claimed {
		assert.Equal(t, ids[i], msg.ID)
		assert.Equal(t, models.MessageStatusProcessing, msg.Status)
		assert.Equal(t, 1, msg.Version)
	}
}

func TestClaimPending_CapsAtBatchSize(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < maxClaimBatch+5; i++ {
		_, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
		require.NoError(t, err)
	}

	claimed, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)
	assert.Len(t, claimed, maxClaimBatch)
}

func TestClaimPending_IgnoresOtherSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := EnqueueMessage(db, "sess-other", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)

	claimed, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestMarkCompleted_RejectsStaleVersion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	msg, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)
	claimed, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = MarkCompleted(db, msg.ID, 0) // stale: real version is now 1
	var vce *VersionConflictError
	require.ErrorAs(t, err, &vce)
}

func TestMarkCompleted_SucceedsWithCurrentVersion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	msg, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)
	claimed, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)

	err = MarkCompleted(db, msg.ID, claimed[0].Version)
	require.NoError(t, err)

	row := db.QueryRow(`SELECT status FROM cognitive_messages WHERE id = ?`, msg.ID)
	var status string
	require.NoError(t, row.Scan(&status))
	assert.Equal(t, "completed", status)
}

func TestReleaseToPending_ReturnsMessageForRetry(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	msg, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)
	claimed, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)

	require.NoError(t, ReleaseToPending(db, msg.ID, claimed[0].Version))

	again, err := ClaimPending(db, "sess-1")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, msg.ID, again[0].ID)
}

func TestSweepInFlight_MarksPendingAndProcessingFailed(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)
	claimedMsg, err := EnqueueMessage(db, "sess-1", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)
	_, err = ClaimPending(db, "sess-1")
	require.NoError(t, err)
	_, err = EnqueueMessage(db, "sess-other", models.MessageKindPrompt, []byte(`{}`))
	require.NoError(t, err)

	n, err := SweepInFlight(db, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM cognitive_messages WHERE id = ?`, claimedMsg.ID).Scan(&status))
	assert.Equal(t, "failed", status)

	require.NoError(t, db.QueryRow(`SELECT status FROM cognitive_messages WHERE session_id = 'sess-other'`).Scan(&status))
	assert.Equal(t, "pending", status)
}

func TestPromptFingerprint_StableAndDistinct(t *testing.T) {
	a := PromptFingerprint("what does auth.go do?")
	b := PromptFingerprint("what does auth.go do?")
	c := PromptFingerprint("what does db.go do?")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
