package store

import (
	"fmt"
	"strconv"

	"github.com/dotcommander/cogsidecar/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so
// callers can reference store.RecoverableError without importing models
// directly.
type RecoverableError = models.RecoverableError

// VersionConflictError is returned when an optimistic-concurrency update
// (CAS on a `version` column) touches zero rows because another writer got
// there first. Callers reload the row and retry the business logic; it is
// never retried automatically by RetryWithBackoff.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int
}

func (e *VersionConflictError) Error() string {
	return "version conflict: record was modified by another process"
}
func (e *VersionConflictError) ErrorCode() string { return "VERSION_CONFLICT" }
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{
		"entity":  e.Entity,
		"id":      e.ID,
		"version": strconv.Itoa(e.Version),
	}
}
func (e *VersionConflictError) SuggestedAction() string {
	return "reload the row and retry the claim"
}
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// StaleClaimError describes a CognitiveMessage found stuck in `processing`
// by a session whose heartbeat has gone stale, surfaced by RunDiagnostics.
type StaleClaimError struct {
	MessageID int64
	SessionID string
}

func (e *StaleClaimError) Error() string { return "cognitive message stuck in processing" }
func (e *StaleClaimError) ErrorCode() string { return "STALE_CLAIM" }
func (e *StaleClaimError) Context() map[string]string {
	return map[string]string{
		"message_id": strconv.FormatInt(e.MessageID, 10),
		"session_id": e.SessionID,
	}
}
func (e *StaleClaimError) SuggestedAction() string {
	return fmt.Sprintf("no live daemon owns session %s; release or fail the message by hand", e.SessionID)
}
