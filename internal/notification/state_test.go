package notification

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-health/portalsync/internal/repository"
)

func testItem(id string, read bool) repository.Notification {
	return repository.Notification{
		ID:               id,
		UserID:           "user-1",
		Title:            "title " + id,
		Message:          "message " + id,
		NotificationType: repository.TypeSystem,
		Priority:         repository.PriorityNormal,
		IsRead:           read,
	}
}

func TestStateMarkRead(t *testing.T) {
	s := State{Items: []repository.Notification{testItem("a", false), testItem("b", false)}, Unread: 2}

	next := s.MarkRead("a")
	assert.True(t, next.Items[0].IsRead)
	assert.Equal(t, 1, next.Unread)

	// Original value untouched
	assert.False(t, s.Items[0].IsRead)
	assert.Equal(t, 2, s.Unread)

	// Already read: no double decrement
	again := next.MarkRead("a")
	assert.Equal(t, 1, again.Unread)

	// Unknown id: unchanged
	assert.Equal(t, next.Unread, next.MarkRead("zzz").Unread)
}

func TestStateMarkReadFloorsAtZero(t *testing.T) {
	// A counter that drifted low must never go negative
	s := State{Items: []repository.Notification{testItem("a", false)}, Unread: 0}
	next := s.MarkRead("a")
	assert.Equal(t, 0, next.Unread)
}

func TestStateMarkAllRead(t *testing.T) {
	s := State{Items: []repository.Notification{testItem("a", false), testItem("b", true), testItem("c", false)}, Unread: 2}

	next := s.MarkAllRead()
	assert.Equal(t, 0, next.Unread)
	for _, item := range next.Items {
		assert.True(t, item.IsRead)
	}
}

func TestStateRemove(t *testing.T) {
	s := State{Items: []repository.Notification{testItem("a", false), testItem("b", true)}, Unread: 1}

	// Removing a read item keeps the counter
	next := s.Remove("b")
	require.Len(t, next.Items, 1)
	assert.Equal(t, 1, next.Unread)

	// Removing an unread item decrements it
	next = next.Remove("a")
	assert.Empty(t, next.Items)
	assert.Equal(t, 0, next.Unread)

	// Unknown id: unchanged
	assert.Equal(t, 0, len(next.Remove("zzz").Items))
}

func TestStatePrepend(t *testing.T) {
	s := State{Items: []repository.Notification{testItem("a", true)}, Unread: 0}

	next := s.Prepend(testItem("b", false))
	require.Len(t, next.Items, 2)
	assert.Equal(t, "b", next.Items[0].ID)
	assert.Equal(t, 1, next.Unread)

	// An already-read row grows the list but not the counter
	next = next.Prepend(testItem("c", true))
	require.Len(t, next.Items, 3)
	assert.Equal(t, 1, next.Unread)

	// A duplicate id is dropped: local create and its realtime echo
	// count once
	next = next.Prepend(testItem("b", false))
	assert.Len(t, next.Items, 3)
	assert.Equal(t, 1, next.Unread)
}

// TestStateInvariantUnderRandomSequences drives long random operation
// sequences and checks after every step that the maintained counter
// matches a recount and never goes negative.
func TestStateInvariantUnderRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		s := State{}
		nextID := 0

		for step := 0; step < 200; step++ {
			switch rng.Intn(5) {
			case 0: // prepend unread (create or realtime insert)
				nextID++
				s = s.Prepend(testItem(fmt.Sprintf("n-%d", nextID), false))
			case 1: // prepend already read
				nextID++
				s = s.Prepend(testItem(fmt.Sprintf("n-%d", nextID), true))
			case 2: // mark a random known or unknown id read
				s = s.MarkRead(fmt.Sprintf("n-%d", rng.Intn(nextID+2)))
			case 3: // delete a random known or unknown id
				s = s.Remove(fmt.Sprintf("n-%d", rng.Intn(nextID+2)))
			case 4:
				s = s.MarkAllRead()
			}

			require.GreaterOrEqual(t, s.Unread, 0, "run %d step %d", run, step)
			require.Equal(t, s.TrueUnread(), s.Unread, "run %d step %d", run, step)
		}
	}
}
