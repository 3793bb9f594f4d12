package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dotcommander/cogsidecar/internal/models"
)

// WriteSessionState appends the next contiguous SessionState version for
// sessionID (starting at 1) inside a transaction, so two Compactor ticks
// racing on the same session never produce a duplicate version.
func WriteSessionState(db *sql.DB, sessionID, projectTag, stateText, tailFilePath string, tokenEstimate int) (*models.SessionState, error) {
	var s models.SessionState
	err := Transact(db, func(tx *sql.Tx) error {
		var maxVersion sql.NullInt64
		if err := tx.QueryRowContext(context.Background(), `
			SELECT MAX(version) FROM session_states WHERE session_id = ?
		`, sessionID).Scan(&maxVersion); err != nil {
			return fmt.Errorf("lookup max session state version: %w", err)
		}
		nextVersion := int(maxVersion.Int64) + 1

		res, err := tx.ExecContext(context.Background(), `
			INSERT INTO session_states (session_id, project_tag, state_text, tail_file_path, token_estimate, version)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, nullIfEmpty(projectTag), stateText, tailFilePath, tokenEstimate, nextVersion)
		if err != nil {
			return fmt.Errorf("insert session state: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return scanSessionState(tx, id, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSessionState returns the highest-versioned SessionState for
// sessionID, or nil if the Compactor has never run for this session. The
// Compactor reads it to compose an update prompt from the previous state.
func LatestSessionState(db *sql.DB, sessionID string) (*models.SessionState, error) {
	var s models.SessionState
	var projectTag sql.NullString
	err := db.QueryRowContext(context.Background(), `
		SELECT id, session_id, project_tag, state_text, tail_file_path, token_estimate, version, created_at
		FROM session_states
		WHERE session_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, sessionID).Scan(&s.ID, &s.SessionID, &projectTag, &s.StateText, &s.TailFilePath, &s.TokenEstimate, &s.Version, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest session state for %s: %w", sessionID, err)
	}
	s.ProjectTag = projectTag.String
	return &s, nil
}

func scanSessionState(q Querier, id int64, s *models.SessionState) error {
	var projectTag sql.NullString
	err := q.QueryRow(`
		SELECT id, session_id, project_tag, state_text, tail_file_path, token_estimate, version, created_at
		FROM session_states WHERE id = ?
	`, id).Scan(&s.ID, &s.SessionID, &projectTag, &s.StateText, &s.TailFilePath, &s.TokenEstimate, &s.Version, &s.CreatedAt)
	if err != nil {
		return err
	}
	s.ProjectTag = projectTag.String
	return nil
}
