package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lumina-health/portalsync/internal/realtime"
	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// ErrNoCurrentUser is returned by mutations attempted before Start
// bound the synchronizer to a user
var ErrNoCurrentUser = errors.New("no current user")

// DefaultLimit is how many recent notifications the initial load pulls
const DefaultLimit = 50

const tableNotifications = "notifications"

// Store is the slice of the row store the synchronizer needs
type Store interface {
	ListRecent(ctx context.Context, userID string, limit int) ([]repository.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, id string) error
	Insert(ctx context.Context, n *repository.Notification) error
}

// Synchronizer keeps one user's notification list and unread counter
// in step with the store. Every cache change follows a confirmed
// remote mutation or a delivered realtime event, never the other way
// around.
type Synchronizer struct {
	store   Store
	channel realtime.Channel
	alerter Alerter
	log     *logger.Logger
	limit   int

	mu           sync.Mutex
	userID       string
	state        State
	sub          realtime.Subscription
	closed       bool
	listeners    map[int]func(State)
	nextListener int
}

// Option customizes synchronizer construction
type Option func(*Synchronizer)

// WithAlerter installs a sink for urgent realtime notifications
func WithAlerter(a Alerter) Option {
	return func(s *Synchronizer) { s.alerter = a }
}

// WithLimit overrides the initial load size
func WithLimit(n int) Option {
	return func(s *Synchronizer) { s.limit = n }
}

// NewSynchronizer constructs an idle synchronizer; Start binds it to a
// user
func NewSynchronizer(store Store, channel realtime.Channel, log *logger.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:     store,
		channel:   channel,
		alerter:   NopAlerter{},
		log:       log,
		limit:     DefaultLimit,
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current cached state
func (s *Synchronizer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers a listener invoked on every state change
func (s *Synchronizer) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Start binds the synchronizer to a user, runs the initial load, and
// activates the realtime subscription. The list and the unread count
// are fetched in parallel; either read failing degrades that half to
// empty or zero rather than failing Start. An insert landing between
// the fetch and the subscription going live is lost; the next load
// picks it up.
func (s *Synchronizer) Start(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("synchronizer is closed")
	}
	if s.userID != "" {
		s.mu.Unlock()
		return fmt.Errorf("already started for user %s", s.userID)
	}
	s.userID = userID
	s.mu.Unlock()

	var (
		wg     sync.WaitGroup
		items  []repository.Notification
		unread int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		list, err := s.store.ListRecent(ctx, userID, s.limit)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Notification list load failed; starting empty")
			return
		}
		items = list
	}()
	go func() {
		defer wg.Done()
		count, err := s.store.CountUnread(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Unread count load failed; starting at zero")
			return
		}
		unread = count
	}()
	wg.Wait()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = State{Items: items, Unread: unread}
	s.notifyAndUnlock()

	sub, err := s.channel.Subscribe(tableNotifications, userID, s.handleChange)
	if err != nil {
		return fmt.Errorf("realtime subscription failed: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.log.Info().Str("user_id", userID).Int("loaded", len(items)).Int("unread", unread).Msg("Notification sync started")
	return nil
}

// handleChange reacts to realtime row changes for the bound user
func (s *Synchronizer) handleChange(ev realtime.ChangeEvent) {
	if ev.Type != realtime.ChangeInsert {
		return
	}

	var n repository.Notification
	if err := json.Unmarshal(ev.Row, &n); err != nil {
		s.log.Warn().Err(err).Msg("Undecodable notification event dropped")
		return
	}

	s.mu.Lock()
	if s.closed || n.UserID != s.userID {
		s.mu.Unlock()
		return
	}
	s.state = s.state.Prepend(n)
	s.notifyAndUnlock()

	if n.Priority == repository.PriorityUrgent {
		if err := s.alerter.Alert(n); err != nil {
			s.log.Warn().Err(err).Str("notification_id", n.ID).Msg("Alert delivery failed")
		}
	}
}

// MarkAsRead flips a notification remotely, then in the cache
func (s *Synchronizer) MarkAsRead(ctx context.Context, id string) error {
	if err := s.requireUser(); err != nil {
		return err
	}

	if err := s.store.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = s.state.MarkRead(id)
	s.notifyAndUnlock()
	return nil
}

// MarkAllAsRead flips every notification remotely, then zeroes the
// cached counter
func (s *Synchronizer) MarkAllAsRead(ctx context.Context) error {
	if err := s.requireUser(); err != nil {
		return err
	}

	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	if err := s.store.MarkAllRead(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = s.state.MarkAllRead()
	s.notifyAndUnlock()
	return nil
}

// Delete removes a notification remotely, then from the cache
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	if err := s.requireUser(); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = s.state.Remove(id)
	s.notifyAndUnlock()
	return nil
}

// CreateRequest carries the optional fields of a locally created
// notification
type CreateRequest struct {
	Priority  string
	ActionURL *string
	Metadata  map[string]any
}

// Create inserts a notification for the bound user and prepends it on
// success. Without a bound user nothing is inserted and nothing in the
// cache moves.
func (s *Synchronizer) Create(ctx context.Context, notificationType, title, message string, req CreateRequest) (*repository.Notification, error) {
	s.mu.Lock()
	if s.userID == "" || s.closed {
		s.mu.Unlock()
		return nil, ErrNoCurrentUser
	}
	userID := s.userID
	s.mu.Unlock()

	priority := req.Priority
	if priority == "" {
		priority = repository.PriorityNormal
	}

	n := &repository.Notification{
		UserID:           userID,
		Title:            title,
		Message:          message,
		NotificationType: notificationType,
		Priority:         priority,
		ActionURL:        req.ActionURL,
		Metadata:         req.Metadata,
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return n, nil
	}
	s.state = s.state.Prepend(*n)
	s.notifyAndUnlock()

	return n, nil
}

// Close unsubscribes from the realtime channel and clears the cache;
// in-flight results arriving afterwards are discarded
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.state = State{}
	s.listeners = make(map[int]func(State))
	userID := s.userID
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Realtime unsubscribe failed")
		}
	}
}

func (s *Synchronizer) requireUser() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" || s.closed {
		return ErrNoCurrentUser
	}
	return nil
}

// notifyAndUnlock snapshots state under the held lock, releases it,
// then fans out so listeners can call back into the synchronizer
func (s *Synchronizer) notifyAndUnlock() {
	snapshot := s.state.clone()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
