package server

import (
	"context"
	"log"
	"time"

	"github.com/veilroom/veilroom/internal/services/relay/storage"
	"github.com/veilroom/veilroom/internal/session"
)

// sweeper periodically deletes sessions past their retention age. Rows
// cascade to participants and identity keys; the assigner's per-session
// lock is dropped alongside.
type sweeper struct {
	store    storage.Store
	assigner *session.Assigner
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

func newSweeper(store storage.Store, assigner *session.Assigner, interval, maxAge time.Duration) *sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = defaultSweepMaxAge
	}
	return &sweeper{
		store:    store,
		assigner: assigner,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// run sweeps on a ticker until the context ends.
func (s *sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := s.sweep(ctx); err != nil {
				log.Printf("relay: session sweep failed: %v", err)
			} else if count > 0 {
				log.Printf("relay: swept %d expired sessions", count)
			}
		}
	}
}

// sweep performs one deletion pass and reports how many sessions went.
func (s *sweeper) sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.maxAge)
	deleted, err := s.store.DeleteSessionsCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, sessionID := range deleted {
		s.assigner.Forget(sessionID)
	}
	return len(deleted), nil
}
