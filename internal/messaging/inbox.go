package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lumina-health/portalsync/internal/realtime"
	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// SummarySource produces a user's conversation summaries; Service
// implements it
type SummarySource interface {
	Summaries(ctx context.Context, userID string) ([]ConversationSummary, error)
}

// Inbox keeps one user's conversation summaries in step with the
// store: an initial aggregation at start, then incremental updates as
// message rows arrive over the realtime channel. A message for a
// conversation the inbox has never seen triggers a full re-aggregation
// instead of a guess.
type Inbox struct {
	source  SummarySource
	channel realtime.Channel
	log     *logger.Logger

	mu        sync.Mutex
	userID    string
	summaries []ConversationSummary
	sub       realtime.Subscription
	closed    bool
}

// NewInbox constructs an idle inbox; Start binds it to a user
func NewInbox(source SummarySource, channel realtime.Channel, log *logger.Logger) *Inbox {
	return &Inbox{source: source, channel: channel, log: log}
}

// Start binds the inbox to a user, loads the initial summaries, and
// activates the realtime subscription. A failed initial load degrades
// to an empty inbox rather than failing Start.
func (b *Inbox) Start(ctx context.Context, userID string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("inbox is closed")
	}
	if b.userID != "" {
		b.mu.Unlock()
		return fmt.Errorf("already started for user %s", b.userID)
	}
	b.userID = userID
	b.mu.Unlock()

	summaries, err := b.source.Summaries(ctx, userID)
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", userID).Msg("Conversation load failed; starting empty")
		summaries = nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.summaries = summaries
	b.mu.Unlock()

	sub, err := b.channel.Subscribe(tableMessages, userID, b.handleChange)
	if err != nil {
		return fmt.Errorf("realtime subscription failed: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	b.sub = sub
	b.mu.Unlock()

	b.log.Info().Str("user_id", userID).Int("conversations", len(summaries)).Msg("Inbox started")
	return nil
}

// Snapshot returns the current summaries, most recent activity first
func (b *Inbox) Snapshot() []ConversationSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ConversationSummary, len(b.summaries))
	copy(out, b.summaries)
	return out
}

// Unread sums unread counts across the cached summaries
func (b *Inbox) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return TotalUnread(b.summaries)
}

// handleChange applies a pushed message row to the cached summaries
func (b *Inbox) handleChange(ev realtime.ChangeEvent) {
	if ev.Type != realtime.ChangeInsert {
		return
	}

	var m repository.Message
	if err := json.Unmarshal(ev.Row, &m); err != nil {
		b.log.Warn().Err(err).Msg("Undecodable message event dropped")
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	userID := b.userID
	updated, known := applyIncoming(b.summaries, m, userID)
	if known {
		b.summaries = updated
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	// Unknown conversation: re-aggregate so the new thread appears with
	// its participants' read positions intact
	summaries, err := b.source.Summaries(context.Background(), userID)
	if err != nil {
		b.log.Warn().Err(err).Str("user_id", userID).Msg("Inbox reload after new conversation failed")
		return
	}

	b.mu.Lock()
	if !b.closed {
		b.summaries = summaries
	}
	b.mu.Unlock()
}

// applyIncoming folds one pushed message into existing summaries,
// returning the new slice and whether the conversation was already
// known. A message from another sender counts as unread; the sender's
// own echo only moves the conversation to the top.
func applyIncoming(summaries []ConversationSummary, m repository.Message, userID string) ([]ConversationSummary, bool) {
	out := make([]ConversationSummary, len(summaries))
	copy(out, summaries)

	for i := range out {
		if out[i].Conversation.ID != m.ConversationID {
			continue
		}
		msg := m
		out[i].LastMessage = &msg
		if m.SenderID != userID {
			out[i].Unread++
		}
		sort.SliceStable(out, func(a, b int) bool {
			return activityTime(out[a]).After(activityTime(out[b]))
		})
		return out, true
	}

	return out, false
}

// Close unsubscribes from the realtime channel and clears the cache
func (b *Inbox) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	sub := b.sub
	b.sub = nil
	b.summaries = nil
	userID := b.userID
	b.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Warn().Err(err).Str("user_id", userID).Msg("Realtime unsubscribe failed")
		}
	}
}
