package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/veilroom/veilroom/internal/avatar"
	apperrors "github.com/veilroom/veilroom/internal/platform/errors"
	"github.com/veilroom/veilroom/internal/platform/random"
	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

// maxAssignAttempts bounds the retry loop over the lock-and-commit cycle.
const maxAssignAttempts = 10

var (
	// ErrAvatarsExhausted indicates no unused avatar remains in the pool.
	ErrAvatarsExhausted = apperrors.New(apperrors.CodeAvatarsExhausted, "no avatars available")
	// ErrAssignmentFailed indicates assignment gave up after repeated
	// write conflicts.
	ErrAssignmentFailed = apperrors.New(apperrors.CodeAssignmentFailed, "avatar assignment failed")
)

// Assigner binds avatars to participants. First-time assignments for a
// session are serialized through a per-session lock; re-entry by an
// already-assigned participant is idempotent and bypasses the capacity
// and exhaustion checks.
type Assigner struct {
	store storage.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// NewAssigner builds an assigner with a crypto-seeded selection source.
func NewAssigner(store storage.Store) (*Assigner, error) {
	seed, err := random.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("seed avatar selection: %w", err)
	}
	return &Assigner{
		store: store,
		locks: make(map[string]*sync.Mutex),
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}, nil
}

func (a *Assigner) sessionLock(sessionID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[sessionID] = lock
	}
	return lock
}

// Forget drops the serialization lock for a deleted session.
func (a *Assigner) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.locks, sessionID)
	a.mu.Unlock()
}

func (a *Assigner) pick(available []avatar.Avatar) avatar.Avatar {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return available[a.rng.Intn(len(available))]
}

// Assign returns the avatar bound to (sessionID, participantID),
// creating the binding if the participant is new.
//
// A new binding reads the session's assigned set, picks uniformly at
// random among unused pool entries, and commits the participant row and
// updated set in one transaction. Uniqueness conflicts trigger a fresh
// read and retry up to maxAssignAttempts; pool exhaustion is terminal
// immediately.
func (a *Assigner) Assign(ctx context.Context, sessionID, participantID string) (avatar.Avatar, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		participant, ok, err := a.store.Participant(ctx, sessionID, participantID)
		if err != nil {
			return avatar.Avatar{}, fmt.Errorf("load participant: %w", err)
		}
		if ok {
			bound, known := avatar.ByID(participant.AvatarID)
			if !known {
				return avatar.Avatar{}, fmt.Errorf("participant %s bound to unknown avatar %q", participantID, participant.AvatarID)
			}
			return bound, nil
		}

		rec, ok, err := a.store.Session(ctx, sessionID)
		if err != nil {
			return avatar.Avatar{}, fmt.Errorf("load session: %w", err)
		}
		if !ok {
			return avatar.Avatar{}, ErrNotFound
		}

		// First-time assignments respect session capacity; re-entry above
		// bypasses this check.
		if len(rec.AssignedAvatars) >= rec.Capacity {
			return avatar.Avatar{}, ErrAvatarsExhausted
		}

		available := avatar.Available(rec.AssignedAvatars)
		if len(available) == 0 {
			return avatar.Avatar{}, ErrAvatarsExhausted
		}

		selected := a.pick(available)
		err = a.store.CreateAssignment(ctx, storage.ParticipantRecord{
			ID:        participantID,
			SessionID: sessionID,
			AvatarID:  selected.ID,
			JoinedAt:  a.now().UTC(),
		}, append(rec.AssignedAvatars, selected.ID))
		if err == nil {
			return selected, nil
		}
		// Uniqueness conflicts and transactional failures both roll back
		// with no partial effects; re-read and retry within the bound.
		lastErr = err
	}

	if lastErr != nil {
		return avatar.Avatar{}, apperrors.Wrap(apperrors.CodeAssignmentFailed, "avatar assignment failed", lastErr)
	}
	return avatar.Avatar{}, ErrAssignmentFailed
}
