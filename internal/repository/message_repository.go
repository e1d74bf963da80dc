package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumina-health/portalsync/pkg/logger"
)

// MessageRepository handles conversation, participant and message rows
type MessageRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *pgxpool.Pool, log *logger.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

// ConversationsFor lists the conversations a user participates in,
// together with the user's own participant rows (read positions)
func (r *MessageRepository) ConversationsFor(ctx context.Context, userID string) ([]Conversation, []ConversationParticipant, error) {
	query := `
		SELECT c.id, c.subject, c.created_at,
		       cp.conversation_id, cp.user_id, cp.last_read_at
		FROM conversations c
		INNER JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, nil, translate(err, "failed to list conversations")
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	participants := make([]ConversationParticipant, 0)
	for rows.Next() {
		var c Conversation
		var p ConversationParticipant
		if err := rows.Scan(&c.ID, &c.Subject, &c.CreatedAt, &p.ConversationID, &p.UserID, &p.LastReadAt); err != nil {
			return nil, nil, translate(err, "failed to scan conversation")
		}
		conversations = append(conversations, c)
		participants = append(participants, p)
	}

	return conversations, participants, rows.Err()
}

// Participants lists every participant of a conversation
func (r *MessageRepository) Participants(ctx context.Context, conversationID string) ([]ConversationParticipant, error) {
	query := `
		SELECT conversation_id, user_id, last_read_at
		FROM conversation_participants
		WHERE conversation_id = $1
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, translate(err, "failed to list participants")
	}
	defer rows.Close()

	participants := make([]ConversationParticipant, 0)
	for rows.Next() {
		var p ConversationParticipant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.LastReadAt); err != nil {
			return nil, translate(err, "failed to scan participant")
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// RecentMessages retrieves the most recent messages of a conversation,
// newest first
func (r *MessageRepository) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, translate(err, "failed to list messages")
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, translate(err, "failed to scan message")
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// InsertMessage stores a new message, minting the ID client-side
func (r *MessageRepository) InsertMessage(ctx context.Context, m *Message) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt)
	if err != nil {
		return translate(err, "failed to send message")
	}

	return nil
}

// MarkRead advances the participant's read position
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	query := `
		UPDATE conversation_participants
		SET last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
	`

	tag, err := r.db.Exec(ctx, query, conversationID, userID, at)
	if err != nil {
		return translate(err, fmt.Sprintf("failed to mark conversation %s read", conversationID))
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("conversation participant", conversationID)
	}

	return nil
}
