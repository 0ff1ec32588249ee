// Package relay maintains the in-memory connection registry: the live
// channels of each session and the ordered log of key-exchange
// announcements replayed to late joiners.
package relay

import (
	"encoding/json"
	"io"
	"sync"
)

// Channel wraps one duplex connection with a write lock so concurrent
// broadcasts interleave whole frames. Channels are owned by the
// registry and have no identity beyond their registration.
type Channel struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewChannel wraps a connection's write side.
func NewChannel(w io.Writer) *Channel {
	return &Channel{encoder: json.NewEncoder(w)}
}

// Send writes one envelope to the channel.
func (c *Channel) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(env)
}

type sessionEntry struct {
	channels      []*Channel
	announcements []Envelope
}

// Registry is the process-wide fan-out component. All state is
// in-memory and guarded by one mutex; it does not survive the process
// and is not shared across replicas.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

func (r *Registry) entry(sessionID string) *sessionEntry {
	entry, ok := r.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{}
		r.sessions[sessionID] = entry
	}
	return entry
}

// Ensure idempotently creates the session's channel set and
// announcement log. Safe to call concurrently with Register.
func (r *Registry) Ensure(sessionID string) {
	r.mu.Lock()
	r.entry(sessionID)
	r.mu.Unlock()
}

// Register adds a channel to the session and replays the current
// announcement log to it, in order. The replay happens under the
// registry lock, so a concurrent broadcast is observed either in the
// log or as live traffic, never both and never neither. Registration
// does not deduplicate: a reconnect whose prior channel has not closed
// yields two live registrations until each closes.
func (r *Registry) Register(sessionID string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entry(sessionID)
	entry.channels = append(entry.channels, ch)
	for _, announcement := range entry.announcements {
		_ = ch.Send(announcement)
	}
}

// Unregister removes the channel. When the last channel of a session
// closes, the channel set and the announcement log are both discarded:
// history does not outlive all live connections.
func (r *Registry) Unregister(sessionID string, ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sessionID, ch)
}

func (r *Registry) removeLocked(sessionID string, ch *Channel) {
	entry, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for i, registered := range entry.channels {
		if registered == ch {
			entry.channels = append(entry.channels[:i], entry.channels[i+1:]...)
			break
		}
	}
	if len(entry.channels) == 0 {
		delete(r.sessions, sessionID)
	}
}

// Broadcast delivers env to every registered channel of the session
// except exclude. Key-exchange announcements are appended to the log
// before fan-out so concurrently registering channels observe a
// consistent order. A failed channel write unregisters that channel and
// the broadcast continues; delivery is best effort.
func (r *Registry) Broadcast(sessionID string, env Envelope, exclude *Channel) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if env.Type == TypeEphemeralKey {
		entry.announcements = append(entry.announcements, env)
	}
	targets := make([]*Channel, 0, len(entry.channels))
	for _, ch := range entry.channels {
		if ch != exclude {
			targets = append(targets, ch)
		}
	}
	r.mu.Unlock()

	for _, ch := range targets {
		if err := ch.Send(env); err != nil {
			r.Unregister(sessionID, ch)
		}
	}
}

// ActiveChannels reports how many channels a session currently has.
func (r *Registry) ActiveChannels(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(entry.channels)
}

// Announcements returns a copy of the session's announcement log.
func (r *Registry) Announcements(sessionID string) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Envelope, len(entry.announcements))
	copy(out, entry.announcements)
	return out
}
