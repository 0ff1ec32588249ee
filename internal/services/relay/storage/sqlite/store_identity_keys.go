package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

// UpsertIdentityKey stores or replaces a participant's identity public
// key, keyed by (session, participant).
func (s *Store) UpsertIdentityKey(ctx context.Context, rec storage.IdentityKeyRecord) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	rec.ParticipantID = strings.TrimSpace(rec.ParticipantID)
	if rec.SessionID == "" || rec.ParticipantID == "" {
		return fmt.Errorf("session and participant ids are required")
	}
	if strings.TrimSpace(rec.PublicKey) == "" {
		return fmt.Errorf("public key is required")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO identity_keys (session_id, participant_id, public_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, participant_id) DO UPDATE SET
		    public_key = excluded.public_key,
		    updated_at = excluded.updated_at`,
		rec.SessionID,
		rec.ParticipantID,
		rec.PublicKey,
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert identity key: %w", err)
	}
	return nil
}

// IdentityKey loads one identity key row.
func (s *Store) IdentityKey(ctx context.Context, sessionID, participantID string) (storage.IdentityKeyRecord, bool, error) {
	if s == nil || s.sqlDB == nil {
		return storage.IdentityKeyRecord{}, false, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT session_id, participant_id, public_key, created_at, updated_at
		 FROM identity_keys
		 WHERE session_id = ? AND participant_id = ?`,
		sessionID,
		participantID,
	)

	var rec storage.IdentityKeyRecord
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.SessionID, &rec.ParticipantID, &rec.PublicKey, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return storage.IdentityKeyRecord{}, false, nil
		}
		return storage.IdentityKeyRecord{}, false, fmt.Errorf("get identity key: %w", err)
	}
	rec.CreatedAt = unixMillisToTime(createdAt)
	rec.UpdatedAt = unixMillisToTime(updatedAt)
	return rec, true, nil
}
