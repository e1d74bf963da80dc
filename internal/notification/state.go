package notification

import "github.com/lumina-health/portalsync/internal/repository"

// State is the cached notification view for one user: the recent
// items, most recent first, and an incrementally maintained unread
// counter. Transitions return a new value and never mutate the
// receiver, so every invariant can be checked without I/O.
type State struct {
	Items  []repository.Notification
	Unread int
}

// MarkRead flips one item to read and decrements the counter, floored
// at zero. An unknown id or an already-read item leaves the state
// unchanged.
func (s State) MarkRead(id string) State {
	next := s.clone()
	for i := range next.Items {
		if next.Items[i].ID != id {
			continue
		}
		if !next.Items[i].IsRead {
			next.Items[i].IsRead = true
			if next.Unread > 0 {
				next.Unread--
			}
		}
		break
	}
	return next
}

// MarkAllRead flips every item and zeroes the counter
func (s State) MarkAllRead() State {
	next := s.clone()
	for i := range next.Items {
		next.Items[i].IsRead = true
	}
	next.Unread = 0
	return next
}

// Remove drops one item, decrementing the counter only when the
// removed item was unread
func (s State) Remove(id string) State {
	next := s.clone()
	for i := range next.Items {
		if next.Items[i].ID != id {
			continue
		}
		if !next.Items[i].IsRead && next.Unread > 0 {
			next.Unread--
		}
		next.Items = append(next.Items[:i], next.Items[i+1:]...)
		break
	}
	return next
}

// Prepend inserts a new item at the head and bumps the counter when
// the item is unread. An id already present is skipped: the local
// create path and the realtime echo of the same row must not
// double-count.
func (s State) Prepend(n repository.Notification) State {
	for i := range s.Items {
		if s.Items[i].ID == n.ID {
			return s.clone()
		}
	}
	next := s.clone()
	next.Items = append([]repository.Notification{n}, next.Items...)
	if !n.IsRead {
		next.Unread++
	}
	return next
}

// TrueUnread recounts unread items from scratch; the maintained
// counter must always agree with it
func (s State) TrueUnread() int {
	count := 0
	for i := range s.Items {
		if !s.Items[i].IsRead {
			count++
		}
	}
	return count
}

func (s State) clone() State {
	items := make([]repository.Notification, len(s.Items))
	copy(items, s.Items)
	return State{Items: items, Unread: s.Unread}
}
