package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type conversationRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

const convCols = `id, participant_1, participant_2, created_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Participant1, &c.Participant2, &c.CreatedAt)
	return &c, err
}

func (r *conversationRepoPG) FindOrCreate(ctx context.Context, participant1, participant2 string) (*Conversation, error) {
	// The unique (participant_1, participant_2) index makes this race-safe:
	// a concurrent insert of the same pair resolves to the existing row.
	return scanConversation(r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, participant_1, participant_2)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_1, participant_2) DO UPDATE SET participant_1 = EXCLUDED.participant_1
		RETURNING `+convCols,
		uuid.New().String(), participant1, participant2))
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = $1`, id))
}

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, conversation_id, sender_id, recipient_id, content, is_read, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID,
		&m.Content, &m.IsRead, &m.CreatedAt)
	return &m, err
}

func (r *messageRepoPG) Insert(ctx context.Context, m *Message) (*Message, error) {
	return scanMessage(r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, is_read)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING `+messageCols,
		uuid.New().String(), m.ConversationID, m.SenderID, m.RecipientID, m.Content))
}

func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}

func (r *messageRepoPG) MarkRead(ctx context.Context, conversationID, readerID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND recipient_id = $2 AND is_read = FALSE`,
		conversationID, readerID)
	return err
}
