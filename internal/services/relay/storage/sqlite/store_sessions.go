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

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, rec storage.SessionRecord) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if rec.Capacity <= 0 {
		return fmt.Errorf("session capacity must be positive")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	assigned, err := json.Marshal(rec.AssignedAvatars)
	if err != nil {
		return fmt.Errorf("encode assigned avatars: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sessions (id, capacity, security_question, security_answer, created_at, joined_count, assigned_avatars)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Capacity,
		rec.Question,
		rec.Answer,
		rec.CreatedAt.UTC().UnixMilli(),
		rec.JoinedCount,
		string(assigned),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Session loads a session row by id.
func (s *Store) Session(ctx context.Context, sessionID string) (storage.SessionRecord, bool, error) {
	if s == nil || s.sqlDB == nil {
		return storage.SessionRecord{}, false, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, capacity, security_question, security_answer, created_at, joined_count, assigned_avatars
		 FROM sessions
		 WHERE id = ?`,
		sessionID,
	)

	var rec storage.SessionRecord
	var createdAt int64
	var assigned string
	if err := row.Scan(
		&rec.ID,
		&rec.Capacity,
		&rec.Question,
		&rec.Answer,
		&createdAt,
		&rec.JoinedCount,
		&assigned,
	); err != nil {
		if err == sql.ErrNoRows {
			return storage.SessionRecord{}, false, nil
		}
		return storage.SessionRecord{}, false, fmt.Errorf("get session: %w", err)
	}

	rec.CreatedAt = unixMillisToTime(createdAt)
	if err := json.Unmarshal([]byte(assigned), &rec.AssignedAvatars); err != nil {
		return storage.SessionRecord{}, false, fmt.Errorf("decode assigned avatars: %w", err)
	}
	return rec, true, nil
}

// ConsumeJoinSlot increments joined_count when it is still below
// capacity. The conditional update makes concurrent admissions safe
// without a read-modify-write cycle.
func (s *Store) ConsumeJoinSlot(ctx context.Context, sessionID string) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions SET joined_count = joined_count + 1
		 WHERE id = ? AND joined_count < capacity`,
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("consume join slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume join slot result: %w", err)
	}
	return affected > 0, nil
}

// DeleteSessionsCreatedBefore removes sessions older than cutoff.
// Participants and identity keys go with them via foreign key cascades.
func (s *Store) DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id FROM sessions WHERE created_at < ?`,
		cutoff.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	_ = rows.Close()

	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM sessions WHERE created_at < ?`,
		cutoff.UTC().UnixMilli(),
	); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	return expired, nil
}
