package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

// Participant loads one participant row.
func (s *Store) Participant(ctx context.Context, sessionID, participantID string) (storage.ParticipantRecord, bool, error) {
	if s == nil || s.sqlDB == nil {
		return storage.ParticipantRecord{}, false, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, session_id, avatar_id, joined_at, connected
		 FROM participants
		 WHERE session_id = ? AND id = ?`,
		sessionID,
		participantID,
	)

	var rec storage.ParticipantRecord
	var joinedAt int64
	var connected int64
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.AvatarID, &joinedAt, &connected); err != nil {
		if err == sql.ErrNoRows {
			return storage.ParticipantRecord{}, false, nil
		}
		return storage.ParticipantRecord{}, false, fmt.Errorf("get participant: %w", err)
	}
	rec.JoinedAt = unixMillisToTime(joinedAt)
	rec.Connected = connected != 0
	return rec, true, nil
}

// CreateAssignment writes the participant row and the session's updated
// assigned-avatar set in one transaction. A crash or a uniqueness race
// leaves neither write behind.
func (s *Store) CreateAssignment(ctx context.Context, participant storage.ParticipantRecord, assignedAvatars []string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	participant.ID = strings.TrimSpace(participant.ID)
	participant.SessionID = strings.TrimSpace(participant.SessionID)
	if participant.ID == "" || participant.SessionID == "" {
		return fmt.Errorf("participant and session ids are required")
	}
	if participant.AvatarID == "" {
		return fmt.Errorf("avatar id is required")
	}
	if participant.JoinedAt.IsZero() {
		participant.JoinedAt = time.Now().UTC()
	}

	assigned, err := json.Marshal(assignedAvatars)
	if err != nil {
		return fmt.Errorf("encode assigned avatars: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignment: %w", err)
	}

	connected := 0
	if participant.Connected {
		connected = 1
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO participants (id, session_id, avatar_id, joined_at, connected)
		 VALUES (?, ?, ?, ?, ?)`,
		participant.ID,
		participant.SessionID,
		participant.AvatarID,
		participant.JoinedAt.UTC().UnixMilli(),
		connected,
	); err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert participant: %w", err)
	}

	result, err := tx.ExecContext(
		ctx,
		`UPDATE sessions SET assigned_avatars = ? WHERE id = ?`,
		string(assigned),
		participant.SessionID,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update assigned avatars: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update assigned avatars result: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("session %s missing during assignment", participant.SessionID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignment: %w", err)
	}
	return nil
}

// SetParticipantConnected flips the connected flag. The avatar binding
// is never touched after the initial assignment.
func (s *Store) SetParticipantConnected(ctx context.Context, sessionID, participantID string, connected bool) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	value := 0
	if connected {
		value = 1
	}
	if _, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE participants SET connected = ? WHERE session_id = ? AND id = ?`,
		value,
		sessionID,
		participantID,
	); err != nil {
		return fmt.Errorf("set participant connected: %w", err)
	}
	return nil
}
