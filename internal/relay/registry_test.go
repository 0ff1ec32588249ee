package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) decodeAll(t *testing.T) []Envelope {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	decoder := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	var envelopes []Envelope
	for {
		var env Envelope
		if err := decoder.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return envelopes
			}
			t.Fatalf("decode recorded envelope: %v", err)
		}
		envelopes = append(envelopes, env)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("transport failure")
}

func announcement(from string) Envelope {
	return Envelope{Type: TypeEphemeralKey, From: from, EphemeralPublicKey: "key-" + from}
}

func TestBroadcastExcludesSender(t *testing.T) {
	registry := NewRegistry()
	senderBuf, otherBuf := &safeBuffer{}, &safeBuffer{}
	sender, other := NewChannel(senderBuf), NewChannel(otherBuf)
	registry.Register("s1", sender)
	registry.Register("s1", other)

	registry.Broadcast("s1", Envelope{Type: TypeMessage, Text: "hello", From: "p1"}, sender)

	if got := senderBuf.decodeAll(t); len(got) != 0 {
		t.Fatalf("sender received %d envelopes, want 0", len(got))
	}
	got := otherBuf.decodeAll(t)
	if len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("other received %+v", got)
	}
}

func TestBroadcastWithoutExcludeReachesEveryone(t *testing.T) {
	registry := NewRegistry()
	buffers := []*safeBuffer{{}, {}, {}}
	for _, buf := range buffers {
		registry.Register("s1", NewChannel(buf))
	}

	registry.Broadcast("s1", announcement("p1"), nil)

	for i, buf := range buffers {
		got := buf.decodeAll(t)
		if len(got) != 1 || got[0].EphemeralPublicKey != "key-p1" {
			t.Fatalf("channel %d received %+v", i, got)
		}
	}
}

func TestRegisterReplaysAnnouncementsInOrder(t *testing.T) {
	registry := NewRegistry()
	first := NewChannel(&safeBuffer{})
	registry.Register("s1", first)

	const prior = 4
	for i := 0; i < prior; i++ {
		registry.Broadcast("s1", announcement(fmt.Sprintf("p%d", i)), nil)
	}

	lateBuf := &safeBuffer{}
	late := NewChannel(lateBuf)
	registry.Register("s1", late)
	registry.Broadcast("s1", Envelope{Type: TypeMessage, Text: "after"}, nil)

	got := lateBuf.decodeAll(t)
	if len(got) != prior+1 {
		t.Fatalf("late joiner received %d envelopes, want %d", len(got), prior+1)
	}
	for i := 0; i < prior; i++ {
		if got[i].Type != TypeEphemeralKey || got[i].From != fmt.Sprintf("p%d", i) {
			t.Fatalf("replay entry %d = %+v, want announcement p%d in order", i, got[i], i)
		}
	}
	if got[prior].Type != TypeMessage {
		t.Fatalf("expected live message after replay, got %+v", got[prior])
	}
}

func TestChatMessagesAreNotLogged(t *testing.T) {
	registry := NewRegistry()
	registry.Register("s1", NewChannel(&safeBuffer{}))

	registry.Broadcast("s1", Envelope{Type: TypeMessage, Text: "hi"}, nil)
	registry.Broadcast("s1", announcement("p1"), nil)

	log := registry.Announcements("s1")
	if len(log) != 1 || log[0].Type != TypeEphemeralKey {
		t.Fatalf("announcement log = %+v, want only the key exchange", log)
	}
}

func TestUnregisterLastChannelDiscardsHistory(t *testing.T) {
	registry := NewRegistry()
	ch := NewChannel(&safeBuffer{})
	registry.Register("s1", ch)
	registry.Broadcast("s1", announcement("p1"), nil)

	registry.Unregister("s1", ch)

	if n := registry.ActiveChannels("s1"); n != 0 {
		t.Fatalf("active channels = %d, want 0", n)
	}
	freshBuf := &safeBuffer{}
	registry.Register("s1", NewChannel(freshBuf))
	if got := freshBuf.decodeAll(t); len(got) != 0 {
		t.Fatalf("fresh registration replayed %d envelopes, want 0", len(got))
	}
}

func TestHistorySurvivesWhileAnyChannelRemains(t *testing.T) {
	registry := NewRegistry()
	ch1 := NewChannel(&safeBuffer{})
	ch2 := NewChannel(&safeBuffer{})
	registry.Register("s1", ch1)
	registry.Register("s1", ch2)
	registry.Broadcast("s1", announcement("p1"), nil)

	registry.Unregister("s1", ch1)

	if got := registry.Announcements("s1"); len(got) != 1 {
		t.Fatalf("announcement log = %+v, want preserved entry", got)
	}
}

func TestBroadcastDropsFailedChannelAndContinues(t *testing.T) {
	registry := NewRegistry()
	broken := NewChannel(failingWriter{})
	healthyBuf := &safeBuffer{}
	healthy := NewChannel(healthyBuf)
	registry.Register("s1", broken)
	registry.Register("s1", healthy)

	registry.Broadcast("s1", Envelope{Type: TypeMessage, Text: "still delivered"}, nil)

	got := healthyBuf.decodeAll(t)
	if len(got) != 1 || got[0].Text != "still delivered" {
		t.Fatalf("healthy channel received %+v", got)
	}
	if n := registry.ActiveChannels("s1"); n != 1 {
		t.Fatalf("active channels = %d, want failed channel dropped", n)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	registry.Ensure("s1")
	registry.Ensure("s1")
	if n := registry.ActiveChannels("s1"); n != 0 {
		t.Fatalf("active channels = %d, want 0", n)
	}

	ch := NewChannel(&safeBuffer{})
	registry.Register("s1", ch)
	registry.Ensure("s1")
	if n := registry.ActiveChannels("s1"); n != 1 {
		t.Fatalf("ensure after register dropped channels: %d", n)
	}
}

func TestValidateInbound(t *testing.T) {
	if err := ValidateInbound(Envelope{Type: TypeMessage, Text: "hi"}); err != nil {
		t.Fatalf("message envelope: %v", err)
	}
	if err := ValidateInbound(Envelope{Type: TypeEphemeralKey, EphemeralPublicKey: "k"}); err != nil {
		t.Fatalf("key envelope: %v", err)
	}
	if err := ValidateInbound(Envelope{Type: TypeEphemeralKey}); err == nil {
		t.Fatal("expected error for missing key material")
	}
	if err := ValidateInbound(Envelope{Type: "presence"}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
