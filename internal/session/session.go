// Package session implements the session lifecycle, the admission gate,
// and the avatar assignment protocol.
package session

import (
	"strings"
	"time"

	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

// DefaultJoinTTL is how long after creation a session accepts admissions.
const DefaultJoinTTL = 5 * time.Minute

// State classifies a session at read time. It is never stored: every
// request recomputes eligibility from the record and the clock.
type State int

const (
	// StateOpen means the session accepts new admissions.
	StateOpen State = iota
	// StateFull means the join count reached capacity.
	StateFull
	// StateExpired means the join window has elapsed.
	StateExpired
)

// String returns a log-friendly state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFull:
		return "full"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// StateOf classifies rec against now. Expiry wins over fullness so a
// stale session reports expired even when it also filled up.
func StateOf(rec storage.SessionRecord, now time.Time, ttl time.Duration) State {
	if ttl <= 0 {
		ttl = DefaultJoinTTL
	}
	if now.After(rec.CreatedAt.Add(ttl)) {
		return StateExpired
	}
	if rec.JoinedCount >= rec.Capacity {
		return StateFull
	}
	return StateOpen
}

// NormalizeAnswer prepares a challenge answer for comparison: answers
// match case-insensitively with surrounding whitespace ignored.
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}
