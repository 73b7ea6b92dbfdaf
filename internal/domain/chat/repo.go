package chat

import (
	"context"
)

// ConversationRepository persists two-party conversations. FindOrCreate
// expects participant ids already ordered with NormalizePair.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, participant1, participant2 string) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
}

// MessageRepository persists messages. Insert assigns the server id and
// timestamp and returns the stored row.
type MessageRepository interface {
	Insert(ctx context.Context, m *Message) (*Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error)
	MarkRead(ctx context.Context, conversationID, readerID string) error
}
