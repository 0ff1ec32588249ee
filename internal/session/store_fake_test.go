package session

import (
	"context"
	"sync"
	"time"

	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

// fakeStore is an in-memory storage.Store for gate and assigner tests.
type fakeStore struct {
	mu           sync.Mutex
	sessions     map[string]storage.SessionRecord
	participants map[string]storage.ParticipantRecord
	identityKeys map[string]storage.IdentityKeyRecord

	// forcedConflicts makes CreateAssignment fail with ErrConflict that
	// many times before behaving normally.
	forcedConflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:     make(map[string]storage.SessionRecord),
		participants: make(map[string]storage.ParticipantRecord),
		identityKeys: make(map[string]storage.IdentityKeyRecord),
	}
}

func participantKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}

func (f *fakeStore) CreateSession(_ context.Context, rec storage.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[rec.ID] = rec
	return nil
}

func (f *fakeStore) Session(_ context.Context, sessionID string) (storage.SessionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.sessions[sessionID]
	return rec, ok, nil
}

func (f *fakeStore) ConsumeJoinSlot(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.sessions[sessionID]
	if !ok || rec.JoinedCount >= rec.Capacity {
		return false, nil
	}
	rec.JoinedCount++
	f.sessions[sessionID] = rec
	return true, nil
}

func (f *fakeStore) Participant(_ context.Context, sessionID, participantID string) (storage.ParticipantRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.participants[participantKey(sessionID, participantID)]
	return rec, ok, nil
}

func (f *fakeStore) CreateAssignment(_ context.Context, participant storage.ParticipantRecord, assignedAvatars []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.forcedConflicts > 0 {
		f.forcedConflicts--
		return storage.ErrConflict
	}

	key := participantKey(participant.SessionID, participant.ID)
	if _, exists := f.participants[key]; exists {
		return storage.ErrConflict
	}
	for _, p := range f.participants {
		if p.SessionID == participant.SessionID && p.AvatarID == participant.AvatarID {
			return storage.ErrConflict
		}
	}

	rec, ok := f.sessions[participant.SessionID]
	if !ok {
		return storage.ErrConflict
	}
	f.participants[key] = participant
	rec.AssignedAvatars = append([]string(nil), assignedAvatars...)
	f.sessions[participant.SessionID] = rec
	return nil
}

func (f *fakeStore) SetParticipantConnected(_ context.Context, sessionID, participantID string, connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey(sessionID, participantID)
	rec, ok := f.participants[key]
	if !ok {
		return nil
	}
	rec.Connected = connected
	f.participants[key] = rec
	return nil
}

func (f *fakeStore) UpsertIdentityKey(_ context.Context, rec storage.IdentityKeyRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identityKeys[participantKey(rec.SessionID, rec.ParticipantID)] = rec
	return nil
}

func (f *fakeStore) DeleteSessionsCreatedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted []string
	for id, rec := range f.sessions {
		if rec.CreatedAt.Before(cutoff) {
			delete(f.sessions, id)
			deleted = append(deleted, id)
		}
	}
	for key, p := range f.participants {
		if _, live := f.sessions[p.SessionID]; !live {
			delete(f.participants, key)
		}
	}
	for key, k := range f.identityKeys {
		if _, live := f.sessions[k.SessionID]; !live {
			delete(f.identityKeys, key)
		}
	}
	return deleted, nil
}
