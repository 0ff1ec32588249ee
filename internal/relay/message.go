package relay

import apperrors "github.com/veilroom/veilroom/internal/platform/errors"

// Channel message types. The envelope is a tagged union dispatched on
// Type; unknown tags are malformed, not ignored.
const (
	// TypeSelf is sent once to a channel on connect with its own identity.
	TypeSelf = "self"
	// TypeEphemeralKey announces key material; logged and replayed to
	// late joiners.
	TypeEphemeralKey = "ephemeral_key"
	// TypeMessage carries chat text; broadcast only, never logged.
	TypeMessage = "message"
	// TypeError reports a per-channel failure back to its sender.
	TypeError = "error"
)

// Envelope is the wire shape shared by every channel message.
type Envelope struct {
	Type               string `json:"type"`
	Avatar             string `json:"avatar,omitempty"`
	Name               string `json:"name,omitempty"`
	From               string `json:"from,omitempty"`
	EphemeralPublicKey string `json:"ephemeralPublicKey,omitempty"`
	Text               string `json:"text,omitempty"`
	Timestamp          string `json:"timestamp,omitempty"`
	To                 string `json:"to,omitempty"`
	Error              string `json:"error,omitempty"`
	Code               string `json:"code,omitempty"`
}

// ErrorEnvelope builds a per-channel error reply.
func ErrorEnvelope(code apperrors.Code, message string) Envelope {
	return Envelope{Type: TypeError, Code: string(code), Error: message}
}

// ValidateInbound checks a client-submitted envelope before dispatch.
func ValidateInbound(env Envelope) error {
	switch env.Type {
	case TypeEphemeralKey:
		if env.EphemeralPublicKey == "" {
			return apperrors.New(apperrors.CodeMalformedMessage, "missing ephemeralPublicKey")
		}
		return nil
	case TypeMessage:
		return nil
	default:
		return apperrors.New(apperrors.CodeMalformedMessage, "unsupported message type")
	}
}
