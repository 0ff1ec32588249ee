package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/veilroom/veilroom/internal/platform/errors"
	"github.com/veilroom/veilroom/internal/platform/id"
	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

var (
	// ErrNotFound indicates the join reference resolved to no session.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "session not found")
	// ErrExpired indicates the session's join window has elapsed.
	ErrExpired = apperrors.New(apperrors.CodeExpired, "session expired")
	// ErrSessionFull indicates the session has no join slots left.
	ErrSessionFull = apperrors.New(apperrors.CodeSessionFull, "session is full")
)

// GateConfig tunes the admission gate.
type GateConfig struct {
	// JoinTTL bounds admissions relative to session creation.
	JoinTTL time.Duration
	// ConsumeSlotOnAdmit controls when a join slot is consumed. When
	// true (the historical behavior) admission consumes the slot before
	// the challenge answer is checked, so a wrong answer still costs a
	// slot. When false the slot is consumed only on a verified answer.
	ConsumeSlotOnAdmit bool
	// Now overrides the clock in tests.
	Now func() time.Time
	// NewClientID overrides client id generation in tests.
	NewClientID func() (string, error)
}

// Gate converts a scanned join reference into permission to open a
// channel, enforcing capacity and freshness and checking the shared
// security question.
type Gate struct {
	store          storage.Store
	joinTTL        time.Duration
	consumeOnAdmit bool
	now            func() time.Time
	newClientID    func() (string, error)
}

// NewGate builds an admission gate over the given store.
func NewGate(store storage.Store, config GateConfig) *Gate {
	ttl := config.JoinTTL
	if ttl <= 0 {
		ttl = DefaultJoinTTL
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	newClientID := config.NewClientID
	if newClientID == nil {
		newClientID = id.NewID
	}
	return &Gate{
		store:          store,
		joinTTL:        ttl,
		consumeOnAdmit: config.ConsumeSlotOnAdmit,
		now:            now,
		newClientID:    newClientID,
	}
}

// Admission is the successful result of resolving a join reference.
type Admission struct {
	SessionID string
	Question  string
}

// Verification is the result of a challenge answer check.
type Verification struct {
	Verified bool
	ClientID string
}

// SessionIDFromJoinReference extracts the session id from a join
// reference, the URL embedded in the session's QR code. The id is the
// last path segment.
func SessionIDFromJoinReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "join reference is required")
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed join reference", err)
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	sessionID := segments[len(segments)-1]
	if sessionID == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "join reference has no session id")
	}
	return sessionID, nil
}

// Admit resolves a join reference, validates freshness and capacity, and
// consumes a join slot when the gate is configured to do so at admission
// time. The slot is not returned on a later failed challenge.
func (g *Gate) Admit(ctx context.Context, joinRef string) (Admission, error) {
	sessionID, err := SessionIDFromJoinReference(joinRef)
	if err != nil {
		return Admission{}, err
	}

	rec, ok, err := g.store.Session(ctx, sessionID)
	if err != nil {
		return Admission{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Admission{}, ErrNotFound
	}

	switch StateOf(rec, g.now(), g.joinTTL) {
	case StateExpired:
		return Admission{}, ErrExpired
	case StateFull:
		return Admission{}, ErrSessionFull
	}

	if g.consumeOnAdmit {
		consumed, err := g.store.ConsumeJoinSlot(ctx, sessionID)
		if err != nil {
			return Admission{}, fmt.Errorf("consume join slot: %w", err)
		}
		if !consumed {
			return Admission{}, ErrSessionFull
		}
	}

	return Admission{SessionID: sessionID, Question: rec.Question}, nil
}

// Verify compares the submitted answer to the stored one. A match yields
// a fresh, unlinkable client id; a mismatch yields Verified false with no
// state change and no retry limit at this layer.
func (g *Gate) Verify(ctx context.Context, sessionID, answer string) (Verification, error) {
	rec, ok, err := g.store.Session(ctx, sessionID)
	if err != nil {
		return Verification{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Verification{}, ErrNotFound
	}

	if NormalizeAnswer(answer) != NormalizeAnswer(rec.Answer) {
		return Verification{}, nil
	}

	if !g.consumeOnAdmit {
		consumed, err := g.store.ConsumeJoinSlot(ctx, sessionID)
		if err != nil {
			return Verification{}, fmt.Errorf("consume join slot: %w", err)
		}
		if !consumed {
			return Verification{}, ErrSessionFull
		}
	}

	clientID, err := g.newClientID()
	if err != nil {
		return Verification{}, fmt.Errorf("generate client id: %w", err)
	}
	return Verification{Verified: true, ClientID: clientID}, nil
}
