package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dotcommander/cogsidecar/internal/models"
)

// WriteRetrieval persists exactly one RetrievalResult row for an accepted
// prompt, under the fingerprint the caller supplies. The Retriever calls
// this on every prompt it processes, including the "none" context_type on a
// busy-skip or fast-exit, so a session's retrieval history never has a gap a
// later prompt could be mistaken for. promptFP must be the fingerprint
// carried on the originating CognitiveMessage, not one recomputed here —
// the external hook polls for a row matching that exact value.
// expires_at is computed in SQL relative to CURRENT_TIMESTAMP so it stays
// comparable, in the same TEXT collation, to every other timestamp column.
func WriteRetrieval(db *sql.DB, sessionID, promptFP string, contextType models.ContextType, contextText string, relevance float64, ttl time.Duration) (*models.RetrievalResult, error) {
	modifier := fmt.Sprintf("%+d seconds", int64(ttl/time.Second))

	var r models.RetrievalResult
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			INSERT INTO retrieval_results (session_id, prompt_fp, context_type, context_text, relevance, expires_at)
			VALUES (?, ?, ?, ?, ?, datetime(CURRENT_TIMESTAMP, ?))
		`, sessionID, promptFP, string(contextType), contextText, relevance, modifier)
		if err != nil {
			return fmt.Errorf("insert retrieval result: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return tx.QueryRowContext(context.Background(), `
			SELECT id, session_id, prompt_fp, context_type, context_text, relevance, created_at, expires_at
			FROM retrieval_results WHERE id = ?
		`, id).Scan(&r.ID, &r.SessionID, &r.PromptFP, &r.ContextType, &r.ContextText, &r.Relevance, &r.CreatedAt, &r.ExpiresAt)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRetrieval returns the most recently written, unexpired
// RetrievalResult for sessionID, or nil if none exists.
func LatestRetrieval(db *sql.DB, sessionID string) (*models.RetrievalResult, error) {
	var r models.RetrievalResult
	err := db.QueryRowContext(context.Background(), `
		SELECT id, session_id, prompt_fp, context_type, context_text, relevance, created_at, expires_at
		FROM retrieval_results
		WHERE session_id = ? AND expires_at > CURRENT_TIMESTAMP
		ORDER BY id DESC
		LIMIT 1
	`, sessionID).Scan(&r.ID, &r.SessionID, &r.PromptFP, &r.ContextType, &r.ContextText, &r.Relevance, &r.CreatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest retrieval for session %s: %w", sessionID, err)
	}
	return &r, nil
}

// PruneExpiredRetrievals deletes retrieval_results rows past their TTL. The
// daemon does not call it on any schedule; expired rows remain until a
// caller runs it.
func PruneExpiredRetrievals(db *sql.DB) (int64, error) {
	res, err := db.ExecContext(context.Background(), `
		DELETE FROM retrieval_results WHERE expires_at <= CURRENT_TIMESTAMP
	`)
	if err != nil {
		return 0, fmt.Errorf("prune expired retrievals: %w", err)
	}
	return res.RowsAffected()
}
