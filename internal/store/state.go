package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dotcommander/cogsidecar/internal/models"
)

// UpsertStateStart creates or replaces the orchestrator_state row for
// sessionID with status "starting", the calling process's pid, and the
// requested per-role enablement. A prior row for the same session id
// (stopped or crashed) is overwritten — only one daemon instance is ever
// live per session.
func UpsertStateStart(db *sql.DB, sessionID string, pid int, retrieverEnabled, learnerEnabled, compactorEnabled bool) (*models.OrchestratorState, error) {
	var s models.OrchestratorState
	err := Transact(db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(), `
			INSERT INTO orchestrator_state (session_id, pid, status, retriever_enabled, learner_enabled, compactor_enabled, started_at, last_heartbeat_at, stopped_at, error_message, version)
			VALUES (?, ?, 'starting', ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, NULL, NULL, 0)
			ON CONFLICT(session_id) DO UPDATE SET
				pid = excluded.pid,
				status = 'starting',
				retriever_enabled = excluded.retriever_enabled,
				learner_enabled = excluded.learner_enabled,
				compactor_enabled = excluded.compactor_enabled,
				retriever_handle = NULL,
				learner_handle = NULL,
				compactor_handle = NULL,
				started_at = CURRENT_TIMESTAMP,
				last_heartbeat_at = CURRENT_TIMESTAMP,
				stopped_at = NULL,
				error_message = NULL,
				version = orchestrator_state.version + 1
		`, sessionID, pid, retrieverEnabled, learnerEnabled, compactorEnabled)
		if err != nil {
			return fmt.Errorf("upsert orchestrator state start: %w", err)
		}
		return scanOrchestratorState(tx, sessionID, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateStateRunning flips a starting session to running and records the
// per-role session handles the Retriever/Learner/Compactor adapters were
// assigned during InitSession.
func UpdateStateRunning(db *sql.DB, sessionID, retrieverHandle, learnerHandle, compactorHandle string) error {
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE orchestrator_state
			SET status = 'running', retriever_handle = ?, learner_handle = ?, compactor_handle = ?,
			    last_heartbeat_at = CURRENT_TIMESTAMP, version = version + 1
			WHERE session_id = ?
		`, nullIfEmpty(retrieverHandle), nullIfEmpty(learnerHandle), nullIfEmpty(compactorHandle), sessionID)
		if err != nil {
			return fmt.Errorf("update orchestrator state running: %w", err)
		}
		return requireRowAffected(res, "orchestrator_state", sessionID)
	})
}

// TouchHeartbeat advances last_heartbeat_at for a live session. Called from
// the Supervisor's heartbeat job, which runs on its own schedule independent
// of queue polling. Returns an error when no starting/running row exists.
func TouchHeartbeat(db *sql.DB, sessionID string) error {
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE orchestrator_state
			SET last_heartbeat_at = CURRENT_TIMESTAMP, version = version + 1
			WHERE session_id = ? AND status IN ('starting', 'running')
		`, sessionID)
		if err != nil {
			return fmt.Errorf("touch heartbeat: %w", err)
		}
		return requireRowAffected(res, "orchestrator_state", sessionID)
	})
}

// MarkStopped records a clean shutdown.
func MarkStopped(db *sql.DB, sessionID string) error {
	return transitionOrchestratorState(db, sessionID, "stopped", "")
}

// MarkCrashed records an unrecoverable failure with a diagnostic message.
func MarkCrashed(db *sql.DB, sessionID, errorMessage string) error {
	return transitionOrchestratorState(db, sessionID, "crashed", errorMessage)
}

func transitionOrchestratorState(db *sql.DB, sessionID, status, errorMessage string) error {
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE orchestrator_state
			SET status = ?, stopped_at = CURRENT_TIMESTAMP, error_message = ?, version = version + 1
			WHERE session_id = ?
		`, status, nullIfEmpty(errorMessage), sessionID)
		if err != nil {
			return fmt.Errorf("transition orchestrator state to %s: %w", status, err)
		}
		return requireRowAffected(res, "orchestrator_state", sessionID)
	})
}

// LookupState returns the orchestrator_state row for sessionID, or nil if
// no session has ever started with that id.
func LookupState(db *sql.DB, sessionID string) (*models.OrchestratorState, error) {
	var s models.OrchestratorState
	err := scanOrchestratorState(db, sessionID, &s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanOrchestratorState(q Querier, sessionID string, s *models.OrchestratorState) error {
	var retrieverHandle, learnerHandle, compactorHandle, errorMessage sql.NullString
	var stoppedAt sql.NullTime
	err := q.QueryRow(`
		SELECT session_id, pid, status, retriever_enabled, learner_enabled, compactor_enabled,
		       retriever_handle, learner_handle, compactor_handle,
		       started_at, last_heartbeat_at, stopped_at, error_message, version
		FROM orchestrator_state WHERE session_id = ?
	`, sessionID).Scan(&s.SessionID, &s.PID, &s.Status, &s.RetrieverEnabled, &s.LearnerEnabled, &s.CompactorEnabled,
		&retrieverHandle, &learnerHandle, &compactorHandle,
		&s.StartedAt, &s.LastHeartbeatAt, &stoppedAt, &errorMessage, &s.Version)
	if err != nil {
		return err
	}
	s.RetrieverHandle = retrieverHandle.String
	s.LearnerHandle = learnerHandle.String
	s.CompactorHandle = compactorHandle.String
	s.ErrorMessage = errorMessage.String
	if stoppedAt.Valid {
		s.StoppedAt = &stoppedAt.Time
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no %s row found for id %s", entity, id)
	}
	return nil
}
