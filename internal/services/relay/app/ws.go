package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/veilroom/veilroom/internal/avatar"
	apperrors "github.com/veilroom/veilroom/internal/platform/errors"
	"github.com/veilroom/veilroom/internal/relay"
)

// handleWS serves GET /ws/{session_id}/{participant_id}. The channel is
// opened only after the participant holds an avatar binding; everything
// after that is fan-out.
func (a *app) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, participantID, ok := wsPathIDs(r.URL.Path)
	if !ok {
		http.Error(w, "session and participant ids are required", http.StatusBadRequest)
		return
	}

	handler := websocket.Handler(func(conn *websocket.Conn) {
		a.serveChannel(conn, sessionID, participantID)
	})
	handler.ServeHTTP(w, r)
}

// wsPathIDs splits /ws/{session_id}/{participant_id}.
func wsPathIDs(path string) (string, string, bool) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/ws"), "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", false
	}
	return segments[0], segments[1], true
}

func (a *app) serveChannel(conn *websocket.Conn, sessionID, participantID string) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	ch := relay.NewChannel(conn)

	bound, err := a.assigner.Assign(ctx, sessionID, participantID)
	if err != nil {
		log.Printf("relay: avatar assignment refused session=%q participant=%q err=%v", sessionID, participantID, err)
		_ = ch.Send(relay.ErrorEnvelope(apperrors.CodeOf(err), err.Error()))
		return
	}

	if err := a.store.SetParticipantConnected(ctx, sessionID, participantID, true); err != nil {
		log.Printf("relay: mark participant connected session=%q participant=%q err=%v", sessionID, participantID, err)
	}

	// The channel learns its own identity first, then the session's
	// key-exchange history.
	_ = ch.Send(relay.Envelope{
		Type:   relay.TypeSelf,
		Avatar: avatar.ImageURL(a.baseURL, bound),
		Name:   bound.Name,
		From:   participantID,
	})

	// Register replays the session's key-exchange log before any live
	// frame can reach the channel.
	a.registry.Ensure(sessionID)
	a.registry.Register(sessionID, ch)
	defer func() {
		a.registry.Unregister(sessionID, ch)
		// The request context is already done at teardown; the flag write
		// must still land.
		if err := a.store.SetParticipantConnected(context.Background(), sessionID, participantID, false); err != nil {
			log.Printf("relay: mark participant disconnected session=%q participant=%q err=%v", sessionID, participantID, err)
		}
	}()

	for {
		var frame []byte
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			return
		}
		// Unmarshalling per frame keeps one bad payload from wedging the
		// channel; the sender gets an error reply and the loop moves on.
		var env relay.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			_ = ch.Send(relay.ErrorEnvelope(apperrors.CodeMalformedMessage, "invalid message payload"))
			continue
		}

		if err := relay.ValidateInbound(env); err != nil {
			_ = ch.Send(relay.ErrorEnvelope(apperrors.CodeOf(err), err.Error()))
			continue
		}

		env.From = participantID
		if env.Timestamp == "" {
			env.Timestamp = a.now().UTC().Format(time.RFC3339)
		}

		switch env.Type {
		case relay.TypeEphemeralKey:
			// Announcements reach every channel, the sender included, and
			// enter the replay log for late joiners.
			a.registry.Broadcast(sessionID, env, nil)
		case relay.TypeMessage:
			a.registry.Broadcast(sessionID, env, ch)
		}
	}
}
