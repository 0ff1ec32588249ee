package session

import (
	"testing"
	"time"

	"github.com/veilroom/veilroom/internal/services/relay/storage"
)

func TestStateOf(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := storage.SessionRecord{ID: "s1", Capacity: 2, CreatedAt: created}

	cases := []struct {
		name   string
		joined int
		now    time.Time
		want   State
	}{
		{"open just after creation", 0, created.Add(time.Second), StateOpen},
		{"open one second before ttl", 1, created.Add(5*time.Minute - time.Second), StateOpen},
		{"expired one second after ttl", 0, created.Add(5*time.Minute + time.Second), StateExpired},
		{"full at capacity", 2, created.Add(time.Minute), StateFull},
		{"expired wins over full", 2, created.Add(6 * time.Minute), StateExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := rec
			rec.JoinedCount = tc.joined
			if got := StateOf(rec, tc.now, 5*time.Minute); got != tc.want {
				t.Fatalf("state = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestStateOfDefaultsTTL(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := storage.SessionRecord{ID: "s1", Capacity: 1, CreatedAt: created}
	if got := StateOf(rec, created.Add(4*time.Minute), 0); got != StateOpen {
		t.Fatalf("state = %s, want open under default ttl", got)
	}
	if got := StateOf(rec, created.Add(6*time.Minute), 0); got != StateExpired {
		t.Fatalf("state = %s, want expired under default ttl", got)
	}
}

func TestNormalizeAnswer(t *testing.T) {
	if NormalizeAnswer(" Blue ") != NormalizeAnswer("blue") {
		t.Fatal("expected \" Blue \" to match \"blue\"")
	}
	if NormalizeAnswer("blue") == NormalizeAnswer("red") {
		t.Fatal("expected distinct answers to differ")
	}
}
