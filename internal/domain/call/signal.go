package call

import (
	"encoding/json"

	"github.com/carelink/carelink/internal/platform/media"
)

// EventCallSignal is the transport event name carrying every call signal.
const EventCallSignal = "call-signal"

// SignalType tags the union of signaling messages. Receivers switch on it
// exhaustively; unknown types are dropped.
type SignalType string

const (
	SignalRequest   SignalType = "call-request"
	SignalAnswer    SignalType = "call-answer"
	SignalEnd       SignalType = "call-end"
	SignalCandidate SignalType = "ice-candidate"
)

// Signal is the envelope broadcast on the organization topic. Every signal is
// addressed to one peer; other subscribers ignore it.
type Signal struct {
	Type     SignalType      `json:"type"`
	From     string          `json:"from"`
	FromName string          `json:"from_name,omitempty"`
	To       string          `json:"to"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// RequestPayload announces an outgoing call. Session carries the caller's
// negotiation blob opaquely; this layer never inspects it.
type RequestPayload struct {
	Video   bool            `json:"video"`
	Session json.RawMessage `json:"session,omitempty"`
}

// AnswerPayload accepts a ringing call, carrying the receiver's negotiation
// blob opaquely.
type AnswerPayload struct {
	Session json.RawMessage `json:"session,omitempty"`
}

// EndPayload terminates or refuses a call.
type EndPayload struct {
	Reason string `json:"reason,omitempty"`
}

const (
	EndReasonHangup   = "hangup"
	EndReasonDeclined = "declined"
	EndReasonBusy     = "busy"
	EndReasonMedia    = "media-failure"
)

// CandidatePayload carries one discovered network candidate. Candidates are
// sent individually as found, never batched.
type CandidatePayload struct {
	media.Candidate
}
