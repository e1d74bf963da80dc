package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-health/portalsync/internal/realtime"
	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// fakeStore is an in-memory notification row store
type fakeStore struct {
	mu       sync.Mutex
	rows     []repository.Notification
	listErr  error
	countErr error
	writeErr error
	inserts  int
}

func (f *fakeStore) ListRecent(ctx context.Context, userID string, limit int) ([]repository.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]repository.Notification, 0, limit)
	for _, n := range f.rows {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) CountUnread(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for _, n := range f.rows {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].IsRead = true
			return nil
		}
	}
	return repository.NotFoundError("notification", id)
}

func (f *fakeStore) MarkAllRead(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for i := range f.rows {
		if f.rows[i].UserID == userID {
			f.rows[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return repository.NotFoundError("notification", id)
}

func (f *fakeStore) Insert(ctx context.Context, n *repository.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.inserts++
	n.ID = "created-1"
	f.rows = append([]repository.Notification{*n}, f.rows...)
	return nil
}

// fakeChannel delivers pushed events synchronously to subscribers
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]func(realtime.ChangeEvent)
	subErr   error
	unsubbed int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]func(realtime.ChangeEvent))}
}

type fakeSubscription struct {
	release func()
}

func (s *fakeSubscription) Unsubscribe() error {
	s.release()
	return nil
}

func (c *fakeChannel) Subscribe(table, key string, fn func(realtime.ChangeEvent)) (realtime.Subscription, error) {
	if c.subErr != nil {
		return nil, c.subErr
	}
	c.mu.Lock()
	c.handlers[table+"/"+key] = fn
	c.mu.Unlock()
	return &fakeSubscription{release: func() {
		c.mu.Lock()
		delete(c.handlers, table+"/"+key)
		c.unsubbed++
		c.mu.Unlock()
	}}, nil
}

func (c *fakeChannel) push(t *testing.T, table, key string, n repository.Notification) {
	t.Helper()
	row, err := json.Marshal(n)
	require.NoError(t, err)
	c.mu.Lock()
	fn := c.handlers[table+"/"+key]
	c.mu.Unlock()
	require.NotNil(t, fn, "no subscriber for %s/%s", table, key)
	fn(realtime.ChangeEvent{Table: table, Type: realtime.ChangeInsert, Row: row})
}

// recordingAlerter captures alerted notifications
type recordingAlerter struct {
	mu   sync.Mutex
	seen []repository.Notification
	fail error
}

func (a *recordingAlerter) Alert(n repository.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.seen = append(a.seen, n)
	return nil
}

func newTestSynchronizer(t *testing.T, store *fakeStore, channel *fakeChannel, opts ...Option) *Synchronizer {
	s := NewSynchronizer(store, channel, logger.Nop(), opts...)
	t.Cleanup(s.Close)
	return s
}

func TestStartLoadsListAndCount(t *testing.T) {
	store := &fakeStore{rows: []repository.Notification{
		testItem("a", false),
		testItem("b", true),
		testItem("c", false),
	}}
	s := newTestSynchronizer(t, store, newFakeChannel())

	require.NoError(t, s.Start(context.Background(), "user-1"))

	state := s.Snapshot()
	assert.Len(t, state.Items, 3)
	assert.Equal(t, 2, state.Unread)
}

func TestStartDegradesOnReadFailure(t *testing.T) {
	store := &fakeStore{
		rows:     []repository.Notification{testItem("a", false)},
		listErr:  errors.New("list down"),
		countErr: errors.New("count down"),
	}
	s := newTestSynchronizer(t, store, newFakeChannel())

	require.NoError(t, s.Start(context.Background(), "user-1"))

	state := s.Snapshot()
	assert.Empty(t, state.Items)
	assert.Equal(t, 0, state.Unread)
}

func TestStartTwiceFails(t *testing.T) {
	s := newTestSynchronizer(t, &fakeStore{}, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))
	assert.Error(t, s.Start(context.Background(), "user-1"))
}

func TestMarkAsRead(t *testing.T) {
	store := &fakeStore{rows: []repository.Notification{testItem("a", false), testItem("b", false)}}
	s := newTestSynchronizer(t, store, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))

	require.NoError(t, s.MarkAsRead(context.Background(), "a"))

	state := s.Snapshot()
	assert.Equal(t, 1, state.Unread)
	assert.True(t, state.Items[0].IsRead)
	assert.Equal(t, state.TrueUnread(), state.Unread)
}

func TestMarkAsReadRemoteFailureLeavesCache(t *testing.T) {
	store := &fakeStore{rows: []repository.Notification{testItem("a", false)}}
	s := newTestSynchronizer(t, store, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))

	store.mu.Lock()
	store.writeErr = errors.New("store down")
	store.mu.Unlock()

	assert.Error(t, s.MarkAsRead(context.Background(), "a"))

	state := s.Snapshot()
	assert.False(t, state.Items[0].IsRead)
	assert.Equal(t, 1, state.Unread)
}

func TestMarkAllAsRead(t *testing.T) {
	store := &fakeStore{rows: []repository.Notification{testItem("a", false), testItem("b", false), testItem("c", true)}}
	s := newTestSynchronizer(t, store, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))

	require.NoError(t, s.MarkAllAsRead(context.Background()))

	state := s.Snapshot()
	assert.Equal(t, 0, state.Unread)
	for _, item := range state.Items {
		assert.True(t, item.IsRead)
	}

	// Reload from the store agrees
	count, err := store.CountUnread(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDelete(t *testing.T) {
	store := &fakeStore{rows: []repository.Notification{testItem("a", false), testItem("b", true)}}
	s := newTestSynchronizer(t, store, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))

	require.NoError(t, s.Delete(context.Background(), "b"))
	state := s.Snapshot()
	assert.Len(t, state.Items, 1)
	assert.Equal(t, 1, state.Unread)

	require.NoError(t, s.Delete(context.Background(), "a"))
	state = s.Snapshot()
	assert.Empty(t, state.Items)
	assert.Equal(t, 0, state.Unread)
}

func TestCreate(t *testing.T) {
	store := &fakeStore{}
	s := newTestSynchronizer(t, store, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))

	created, err := s.Create(context.Background(), repository.TypeAppointment, "Reminder", "Visit tomorrow", CreateRequest{})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, repository.PriorityNormal, created.Priority)

	state := s.Snapshot()
	require.Len(t, state.Items, 1)
	assert.Equal(t, created.ID, state.Items[0].ID)
	assert.Equal(t, 1, state.Unread)
}

func TestCreateMarkReadDeleteSequence(t *testing.T) {
	store := &fakeStore{}
	s := newTestSynchronizer(t, store, newFakeChannel())
	require.NoError(t, s.Start(context.Background(), "user-1"))

	created, err := s.Create(context.Background(), repository.TypeSystem, "T", "M", CreateRequest{})
	require.NoError(t, err)
	state := s.Snapshot()
	require.Len(t, state.Items, 1)
	assert.False(t, state.Items[0].IsRead)
	assert.Equal(t, 1, state.Unread)

	require.NoError(t, s.MarkAsRead(context.Background(), created.ID))
	state = s.Snapshot()
	assert.True(t, state.Items[0].IsRead)
	assert.Equal(t, 0, state.Unread)

	require.NoError(t, s.Delete(context.Background(), created.ID))
	state = s.Snapshot()
	assert.Empty(t, state.Items)
	assert.Equal(t, 0, state.Unread)
}

func TestCreateWithoutUser(t *testing.T) {
	store := &fakeStore{}
	s := newTestSynchronizer(t, store, newFakeChannel())

	created, err := s.Create(context.Background(), repository.TypeSystem, "t", "m", CreateRequest{})
	assert.ErrorIs(t, err, ErrNoCurrentUser)
	assert.Nil(t, created)
	assert.Equal(t, 0, store.inserts)
	assert.Empty(t, s.Snapshot().Items)
}

func TestMutationsWithoutUser(t *testing.T) {
	s := newTestSynchronizer(t, &fakeStore{}, newFakeChannel())

	assert.ErrorIs(t, s.MarkAsRead(context.Background(), "a"), ErrNoCurrentUser)
	assert.ErrorIs(t, s.MarkAllAsRead(context.Background()), ErrNoCurrentUser)
	assert.ErrorIs(t, s.Delete(context.Background(), "a"), ErrNoCurrentUser)
}

func TestRealtimeInsert(t *testing.T) {
	channel := newFakeChannel()
	s := newTestSynchronizer(t, &fakeStore{}, channel)
	require.NoError(t, s.Start(context.Background(), "user-1"))

	channel.push(t, tableNotifications, "user-1", testItem("rt-1", false))

	state := s.Snapshot()
	require.Len(t, state.Items, 1)
	assert.Equal(t, "rt-1", state.Items[0].ID)
	assert.Equal(t, 1, state.Unread)

	// An already-read row grows the list, counter unchanged
	channel.push(t, tableNotifications, "user-1", testItem("rt-2", true))
	state = s.Snapshot()
	assert.Len(t, state.Items, 2)
	assert.Equal(t, 1, state.Unread)
}

func TestRealtimeInsertForOtherUserIgnored(t *testing.T) {
	channel := newFakeChannel()
	s := newTestSynchronizer(t, &fakeStore{}, channel)
	require.NoError(t, s.Start(context.Background(), "user-1"))

	other := testItem("rt-1", false)
	other.UserID = "user-2"
	row, err := json.Marshal(other)
	require.NoError(t, err)

	channel.mu.Lock()
	fn := channel.handlers[tableNotifications+"/user-1"]
	channel.mu.Unlock()
	fn(realtime.ChangeEvent{Table: tableNotifications, Type: realtime.ChangeInsert, Row: row})

	assert.Empty(t, s.Snapshot().Items)
}

func TestUrgentInsertAlerts(t *testing.T) {
	channel := newFakeChannel()
	alerter := &recordingAlerter{}
	s := newTestSynchronizer(t, &fakeStore{}, channel, WithAlerter(alerter))
	require.NoError(t, s.Start(context.Background(), "user-1"))

	urgent := testItem("rt-1", false)
	urgent.Priority = repository.PriorityUrgent
	channel.push(t, tableNotifications, "user-1", urgent)

	normal := testItem("rt-2", false)
	channel.push(t, tableNotifications, "user-1", normal)

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.seen, 1)
	assert.Equal(t, "rt-1", alerter.seen[0].ID)
}

func TestAlertFailureDoesNotBlockState(t *testing.T) {
	channel := newFakeChannel()
	alerter := &recordingAlerter{fail: errors.New("sink down")}
	s := newTestSynchronizer(t, &fakeStore{}, channel, WithAlerter(alerter))
	require.NoError(t, s.Start(context.Background(), "user-1"))

	urgent := testItem("rt-1", false)
	urgent.Priority = repository.PriorityUrgent
	channel.push(t, tableNotifications, "user-1", urgent)

	assert.Len(t, s.Snapshot().Items, 1)
}

func TestSubscribeFanOutAndClose(t *testing.T) {
	channel := newFakeChannel()
	s := NewSynchronizer(&fakeStore{rows: []repository.Notification{testItem("a", false)}}, channel, logger.Nop())

	var states []State
	unsubscribe := s.Subscribe(func(st State) { states = append(states, st) })
	defer unsubscribe()

	require.NoError(t, s.Start(context.Background(), "user-1"))
	require.NotEmpty(t, states)
	assert.Equal(t, 1, states[len(states)-1].Unread)

	s.Close()
	assert.Equal(t, 1, channel.unsubbed)
	assert.Empty(t, s.Snapshot().Items)

	// Mutations after close are refused
	assert.ErrorIs(t, s.MarkAsRead(context.Background(), "a"), ErrNoCurrentUser)

	// Close is idempotent
	s.Close()
	assert.Equal(t, 1, channel.unsubbed)
}
