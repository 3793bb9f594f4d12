package store

import (
	"context"
	"database/sql"
	"fmt"
)

// staleHeartbeatWindow is how long an orchestrator_state row can go without a
// heartbeat before its session is considered abandoned. Three times the
// supervisor's ~30s heartbeat tick, giving room for one missed beat plus
// scheduling jitter.
const staleHeartbeatWindow = "-90 seconds"

// Diagnostic represents a single consistency check finding.
type Diagnostic struct {
	Level           string `json:"level"` // "warning" or "error"
	Code            string `json:"code"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// RunDiagnostics performs read-only consistency checks and returns findings.
// It never mutates rows; reaping stale state is left to a daemon instance or
// operator tooling acting on the report.
func RunDiagnostics(db *sql.DB) ([]Diagnostic, error) {
	var diags []Diagnostic

	staleMessages, err := findStaleProcessingMessages(db)
	if err != nil {
		return nil, fmt.Errorf("stale processing messages check: %w", err)
	}
	diags = append(diags, staleMessages...)

	staleOrchestrators, err := findStaleOrchestratorRows(db)
	if err != nil {
		return nil, fmt.Errorf("stale orchestrator state check: %w", err)
	}
	diags = append(diags, staleOrchestrators...)

	return diags, nil
}

// findStaleProcessingMessages finds cognitive_messages stuck in `processing`
// whose owning session's orchestrator_state heartbeat has gone stale or
// disappeared entirely.
func findStaleProcessingMessages(db *sql.DB) ([]Diagnostic, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT m.id, m.session_id
		FROM cognitive_messages m
		LEFT JOIN orchestrator_state o ON o.session_id = m.session_id
		WHERE m.status = 'processing'
		  AND (o.session_id IS NULL OR o.last_heartbeat_at < datetime('now', ?))
	`, staleHeartbeatWindow)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var diags []Diagnostic
	for rows.Next() {
		var messageID int64
		var sessionID string
		if err := rows.Scan(&messageID, &sessionID); err != nil {
			return nil, err
		}
		e := &StaleClaimError{MessageID: messageID, SessionID: sessionID}
		diags = append(diags, Diagnostic{
			Level:           "warning",
			Code:            e.ErrorCode(),
			Message:         fmt.Sprintf("cognitive message %d stuck in processing for session %s", messageID, sessionID),
			SuggestedAction: e.SuggestedAction(),
		})
	}
	return diags, rows.Err()
}

// findStaleOrchestratorRows finds orchestrator_state rows stuck in
// starting/running whose heartbeat has gone stale — a daemon instance that
// crashed without transitioning itself to crashed/stopped.
func findStaleOrchestratorRows(db *sql.DB) ([]Diagnostic, error) {
	rows, err := db.QueryContext(context.Background(), `
		SELECT session_id, status, last_heartbeat_at
		FROM orchestrator_state
		WHERE status IN ('starting', 'running')
		  AND last_heartbeat_at < datetime('now', ?)
	`, staleHeartbeatWindow)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var diags []Diagnostic
	for rows.Next() {
		var sessionID, status, lastHeartbeat string
		if err := rows.Scan(&sessionID, &status, &lastHeartbeat); err != nil {
			return nil, err
		}
		diags = append(diags, Diagnostic{
			Level:           "error",
			Code:            "STALE_ORCHESTRATOR",
			Message:         fmt.Sprintf("session %s has status %s with stale heartbeat (last seen %s)", sessionID, status, lastHeartbeat),
			SuggestedAction: fmt.Sprintf("no daemon is heartbeating for session %s; restart it or mark its orchestrator_state row crashed", sessionID),
		})
	}
	return diags, rows.Err()
}
