package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks a locally-generated message id awaiting server
// confirmation.
const TempIDPrefix = "temp-"

// NewTempID generates a temporary message id.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether an id is a temporary, unconfirmed one.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NormalizePair orders two participant ids so that the lower id comes first.
// Both directions of a chat between the same two users resolve to the same
// ordered pair, which is what converges them onto one conversation row.
func NormalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Conversation is a persisted two-party conversation, keyed by the ordered
// participant pair.
type Conversation struct {
	ID           string    `db:"id" json:"id"`
	Participant1 string    `db:"participant_1" json:"participant_1"`
	Participant2 string    `db:"participant_2" json:"participant_2"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Message is one chat message. Until the remote store confirms it, ID is a
// temp id and Pending is true; a confirmed message carries the server id and
// timestamp.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	RecipientID    string    `db:"recipient_id" json:"recipient_id"`
	Content        string    `db:"content" json:"content"`
	IsRead         bool      `db:"is_read" json:"is_read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	Pending        bool      `db:"-" json:"pending,omitempty"`
}

// ChatWindow is one open conversation with a peer. At most one window exists
// per peer id; opening an existing peer's chat un-minimizes it.
type ChatWindow struct {
	PeerID         string    `json:"peer_id"`
	PeerName       string    `json:"peer_name"`
	Minimized      bool      `json:"minimized"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Messages       []Message `json:"messages"`

	gen uint64
}

// MessageEvent is the broadcast payload for a chat message on the transport.
type MessageEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventChatMessage is the transport event name for chat messages.
const EventChatMessage = "chat-message"
