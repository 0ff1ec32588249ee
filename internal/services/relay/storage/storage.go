// Package storage defines the persistent records and store contract for
// the relay service.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrConflict indicates a write lost a uniqueness race (participant id or
// avatar already taken in the session) and may be retried after a fresh read.
var ErrConflict = errors.New("storage: uniqueness conflict")

// SessionRecord is the durable session row.
//
// JoinedCount only ever increases and AssignedAvatars never exceeds
// Capacity; both are maintained through ConsumeJoinSlot and
// CreateAssignment rather than direct updates.
type SessionRecord struct {
	ID              string
	Capacity        int
	Question        string
	Answer          string
	CreatedAt       time.Time
	JoinedCount     int
	AssignedAvatars []string
}

// ParticipantRecord is one admitted, avatar-bound identity in a session.
// The avatar binding is immutable once written.
type ParticipantRecord struct {
	ID        string
	SessionID string
	AvatarID  string
	JoinedAt  time.Time
	Connected bool
}

// IdentityKeyRecord stores a participant's long-lived public key,
// upserted by (session, participant).
type IdentityKeyRecord struct {
	SessionID     string
	ParticipantID string
	PublicKey     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the persistence contract consumed by the gate, the avatar
// assigner, and the relay app.
type Store interface {
	CreateSession(ctx context.Context, rec SessionRecord) error
	Session(ctx context.Context, sessionID string) (SessionRecord, bool, error)

	// ConsumeJoinSlot atomically increments the session's joined count
	// when it is still below capacity. It reports false when the session
	// is already full.
	ConsumeJoinSlot(ctx context.Context, sessionID string) (bool, error)

	Participant(ctx context.Context, sessionID, participantID string) (ParticipantRecord, bool, error)

	// CreateAssignment writes the participant row and the session's
	// updated assigned-avatar set in a single transaction. A uniqueness
	// violation on either write surfaces as ErrConflict with no partial
	// effects.
	CreateAssignment(ctx context.Context, participant ParticipantRecord, assignedAvatars []string) error

	SetParticipantConnected(ctx context.Context, sessionID, participantID string, connected bool) error

	UpsertIdentityKey(ctx context.Context, rec IdentityKeyRecord) error

	// DeleteSessionsCreatedBefore removes sessions older than cutoff,
	// cascading to participants and identity keys, and returns the ids
	// of the removed sessions.
	DeleteSessionsCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}
