package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dotcommander/cogsidecar/internal/models"
)

// maxClaimBatch is the FIFO batch size the Supervisor claims per poll.
const maxClaimBatch = 10

// EnqueueMessage inserts a new pending CognitiveMessage. Hooks are the only
// producers; the daemon only ever reads and transitions existing rows.
func EnqueueMessage(db *sql.DB, sessionID string, kind models.MessageKind, payload json.RawMessage) (*models.CognitiveMessage, error) {
	var msg models.CognitiveMessage
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			INSERT INTO cognitive_messages (session_id, kind, payload, status, version)
			VALUES (?, ?, ?, 'pending', 0)
		`, sessionID, string(kind), string(payload))
		if err != nil {
			return fmt.Errorf("insert cognitive message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return tx.QueryRowContext(context.Background(), `
			SELECT id, session_id, kind, payload, status, version, created_at
			FROM cognitive_messages WHERE id = ?
		`, id).Scan(&msg.ID, &msg.SessionID, &msg.Kind, &msg.Payload, &msg.Status, &msg.Version, &msg.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ClaimPending atomically claims up to maxClaimBatch oldest pending messages
// for sessionID, flipping them to processing inside one BEGIN IMMEDIATE
// transaction (SQLite has no SELECT ... FOR UPDATE SKIP LOCKED, so selection
// and the status flip happen together to avoid a second daemon instance
// claiming the same rows).
func ClaimPending(db *sql.DB, sessionID string) ([]models.CognitiveMessage, error) {
	var claimed []models.CognitiveMessage

	err := Transact(db, func(tx *sql.Tx) error {
		claimed = nil
		rows, err := tx.QueryContext(context.Background(), `
			SELECT id FROM cognitive_messages
			WHERE session_id = ? AND status = 'pending'
			ORDER BY id ASC
			LIMIT ?
		`, sessionID, maxClaimBatch)
		if err != nil {
			return fmt.Errorf("select pending ids: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan pending id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		_ = rows.Close()

		for _, id := range ids {
			res, err := tx.ExecContext(context.Background(), `
				UPDATE cognitive_messages
				SET status = 'processing', version = version + 1
				WHERE id = ? AND status = 'pending'
			`, id)
			if err != nil {
				return fmt.Errorf("claim message %d: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue // raced by another claimer; skip
			}

			var msg models.CognitiveMessage
			err = tx.QueryRowContext(context.Background(), `
				SELECT id, session_id, kind, payload, status, version, created_at
				FROM cognitive_messages WHERE id = ?
			`, id).Scan(&msg.ID, &msg.SessionID, &msg.Kind, &msg.Payload, &msg.Status, &msg.Version, &msg.CreatedAt)
			if err != nil {
				return fmt.Errorf("reload claimed message %d: %w", id, err)
			}
			claimed = append(claimed, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted transitions a processing message to completed via optimistic
// concurrency. Returns VersionConflictError if expectedVersion is stale.
func MarkCompleted(db *sql.DB, id int64, expectedVersion int) error {
	return transitionMessage(db, id, expectedVersion, "completed")
}

// MarkFailed transitions a processing message to failed via optimistic
// concurrency.
func MarkFailed(db *sql.DB, id int64, expectedVersion int) error {
	return transitionMessage(db, id, expectedVersion, "failed")
}

// ReleaseToPending returns a claimed-but-unprocessed message to pending —
// used when the owning role was busy (Learner), so the message is retried
// on a later cycle instead of being lost.
func ReleaseToPending(db *sql.DB, id int64, expectedVersion int) error {
	return transitionMessage(db, id, expectedVersion, "pending")
}

func transitionMessage(db *sql.DB, id int64, expectedVersion int, newStatus string) error {
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE cognitive_messages
			SET status = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, newStatus, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("transition message %d to %s: %w", id, newStatus, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &VersionConflictError{Entity: "cognitive_messages", ID: fmt.Sprintf("%d", id), Version: expectedVersion}
		}
		return nil
	})
}

// PromptFingerprint computes a short, stable hash of prompt text for
// RetrievalResult lookup keys. Not cryptographic: collision resistance
// within one session's prompt history is all that's required.
func PromptFingerprint(prompt string) string {
	h := uint64(14695981039346656037) // FNV-1a offset basis
	for i := 0; i < len(prompt); i++ {
		h ^= uint64(prompt[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%016x", h)
}

// SweepInFlight marks every pending or processing message for sessionID as
// failed. Called during graceful shutdown so no row outlives the daemon
// instance that claimed it.
func SweepInFlight(db *sql.DB, sessionID string) (int64, error) {
	res, err := db.ExecContext(context.Background(), `
		UPDATE cognitive_messages
		SET status = 'failed', version = version + 1
		WHERE session_id = ? AND status IN ('pending', 'processing')
	`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("sweep in-flight messages for session %s: %w", sessionID, err)
	}
	return res.RowsAffected()
}
