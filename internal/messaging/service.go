package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lumina-health/portalsync/internal/realtime"
	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

const tableMessages = "messages"

// recentWindow bounds how many messages per conversation feed the
// summary; unread counts beyond it saturate at the window size
const recentWindow = 100

// MessageStore is the slice of the row store the service needs
type MessageStore interface {
	ConversationsFor(ctx context.Context, userID string) ([]repository.Conversation, []repository.ConversationParticipant, error)
	Participants(ctx context.Context, conversationID string) ([]repository.ConversationParticipant, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]repository.Message, error)
	InsertMessage(ctx context.Context, m *repository.Message) error
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error
}

// ConversationSummary is one row of a user's conversation list
type ConversationSummary struct {
	Conversation repository.Conversation
	LastMessage  *repository.Message
	Unread       int
}

// Service aggregates conversations and fans sent messages out to
// participants over the realtime channel
type Service struct {
	store     MessageStore
	publisher realtime.Publisher
	log       *logger.Logger
}

// NewService creates a messaging service; publisher may be nil when no
// realtime fan-out is wanted
func NewService(store MessageStore, publisher realtime.Publisher, log *logger.Logger) *Service {
	return &Service{store: store, publisher: publisher, log: log}
}

// Summaries returns the user's conversations, each with its latest
// message and unread count, most recent activity first
func (s *Service) Summaries(ctx context.Context, userID string) ([]ConversationSummary, error) {
	conversations, positions, err := s.store.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	messagesByConversation := make(map[string][]repository.Message, len(conversations))
	for _, c := range conversations {
		messages, err := s.store.RecentMessages(ctx, c.ID, recentWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages for conversation %s: %w", c.ID, err)
		}
		messagesByConversation[c.ID] = messages
	}

	return Summarize(userID, conversations, positions, messagesByConversation), nil
}

// Summarize builds conversation summaries from already-fetched rows.
// Unread counts only messages from other senders newer than the user's
// read position; a nil position counts every message from others.
// Summaries are sorted by latest activity, which is the newest message
// or the conversation's creation time when it has no messages.
func Summarize(
	userID string,
	conversations []repository.Conversation,
	positions []repository.ConversationParticipant,
	messagesByConversation map[string][]repository.Message,
) []ConversationSummary {
	readPositions := make(map[string]*time.Time, len(positions))
	for _, p := range positions {
		if p.UserID == userID {
			readPositions[p.ConversationID] = p.LastReadAt
		}
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		messages := messagesByConversation[c.ID]
		summary := ConversationSummary{Conversation: c}

		if len(messages) > 0 {
			// RecentMessages is newest first
			latest := messages[0]
			summary.LastMessage = &latest
		}

		lastRead := readPositions[c.ID]
		for _, m := range messages {
			if m.SenderID == userID {
				continue
			}
			if lastRead == nil || m.CreatedAt.After(*lastRead) {
				summary.Unread++
			}
		}

		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return activityTime(summaries[i]).After(activityTime(summaries[j]))
	})

	return summaries
}

func activityTime(s ConversationSummary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Conversation.CreatedAt
}

// TotalUnread sums unread counts across summaries
func TotalUnread(summaries []ConversationSummary) int {
	total := 0
	for _, s := range summaries {
		total += s.Unread
	}
	return total
}

// SendMessage stores a message and pushes it to every other
// participant over the realtime channel. Fan-out failures are logged,
// not returned: the message is already persisted.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (*repository.Message, error) {
	m := &repository.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if s.publisher != nil {
		s.fanOut(ctx, m)
	}

	return m, nil
}

func (s *Service) fanOut(ctx context.Context, m *repository.Message) {
	participants, err := s.store.Participants(ctx, m.ConversationID)
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", m.ConversationID).Msg("Participant lookup failed; message not fanned out")
		return
	}

	row, err := json.Marshal(m)
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", m.ID).Msg("Message encoding failed; not fanned out")
		return
	}

	ev := realtime.ChangeEvent{Table: tableMessages, Type: realtime.ChangeInsert, Row: row}
	for _, p := range participants {
		if p.UserID == m.SenderID {
			continue
		}
		if err := s.publisher.Publish(tableMessages, p.UserID, ev); err != nil {
			s.log.Warn().Err(err).Str("user_id", p.UserID).Str("message_id", m.ID).Msg("Message fan-out failed")
		}
	}
}

// MarkConversationRead advances the user's read position to now
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	if err := s.store.MarkRead(ctx, conversationID, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return nil
}
