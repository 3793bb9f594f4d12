package store

import (
	"context"
	"database/sql"
	"fmt"
)

// StatusCounts holds summary counts for a single session's queues and state.
type StatusCounts struct {
	CognitiveQueue QueueCounts       `json:"cognitive_queue"`
	RetrievalQueue RetrievalCounts   `json:"retrieval_queue"`
	Orchestrator   *OrchestratorRow  `json:"orchestrator,omitempty"`
}

// QueueCounts breaks down cognitive_messages counts by status.
type QueueCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// RetrievalCounts breaks down retrieval_results counts by liveness.
type RetrievalCounts struct {
	Total   int `json:"total"`
	Expired int `json:"expired"`
}

// OrchestratorRow is a thin projection of orchestrator_state for status output.
type OrchestratorRow struct {
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at"`
	LastHeartbeatAt string `json:"last_heartbeat_at"`
}

// GetStatusCounts retrieves queue depth and orchestrator state for a session
// with two retried queries: one for the counts, one for the state row.
func GetStatusCounts(db *sql.DB, sessionID string) (*StatusCounts, error) {
	counts := &StatusCounts{}

	err := RetryWithBackoff(context.Background(), func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT
				COALESCE((SELECT SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END) FROM cognitive_messages WHERE session_id = ?), 0),
				COALESCE((SELECT SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END) FROM cognitive_messages WHERE session_id = ?), 0),
				COALESCE((SELECT SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) FROM cognitive_messages WHERE session_id = ?), 0),
				COALESCE((SELECT SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) FROM cognitive_messages WHERE session_id = ?), 0),
				(SELECT COUNT(*) FROM retrieval_results WHERE session_id = ?),
				COALESCE((SELECT COUNT(*) FROM retrieval_results WHERE session_id = ? AND expires_at <= CURRENT_TIMESTAMP), 0)
		`, sessionID, sessionID, sessionID, sessionID, sessionID, sessionID).Scan(
			&counts.CognitiveQueue.Pending,
			&counts.CognitiveQueue.Processing,
			&counts.CognitiveQueue.Completed,
			&counts.CognitiveQueue.Failed,
			&counts.RetrievalQueue.Total,
			&counts.RetrievalQueue.Expired,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get status counts: %w", err)
	}

	var row OrchestratorRow
	err = RetryWithBackoff(context.Background(), func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT session_id, status, started_at, last_heartbeat_at
			FROM orchestrator_state WHERE session_id = ?
		`, sessionID).Scan(&row.SessionID, &row.Status, &row.StartedAt, &row.LastHeartbeatAt)
	})
	switch {
	case err == nil:
		counts.Orchestrator = &row
	case err == sql.ErrNoRows:
		// no orchestrator has ever run for this session; leave nil
	default:
		return nil, fmt.Errorf("failed to get orchestrator state: %w", err)
	}

	return counts, nil
}
