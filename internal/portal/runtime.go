package portal

import (
	"context"
	"sync"

	"github.com/lumina-health/portalsync/internal/session"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// Syncer is a per-user synchronizer the runtime can start and stop
type Syncer interface {
	Start(ctx context.Context, userID string) error
	Close()
}

// SyncerFactory builds a fresh Syncer for each identity; a Syncer is
// single-use, one Start then one Close
type SyncerFactory func() Syncer

// SessionSource is the slice of the session manager the runtime needs
type SessionSource interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) *session.Subscription
}

// Runtime binds per-user synchronizers to the session lifecycle: an
// identity appearing starts one syncer per factory for it, the
// identity changing or disappearing closes them all. Cached per-user
// state never survives an identity change.
type Runtime struct {
	sessions  SessionSource
	factories []SyncerFactory
	log       *logger.Logger

	mu          sync.Mutex
	currentUser string
	syncers     []Syncer
	sub         *session.Subscription
	closed      bool
}

// NewRuntime creates an idle runtime; Start attaches it to the session
// stream
func NewRuntime(sessions SessionSource, log *logger.Logger, factories ...SyncerFactory) *Runtime {
	return &Runtime{sessions: sessions, factories: factories, log: log}
}

// Start subscribes to session changes and applies the current snapshot
// so an already-authenticated session is picked up
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	if r.closed || r.sub != nil {
		r.mu.Unlock()
		return
	}
	r.sub = r.sessions.Subscribe(func(snap session.Snapshot) {
		r.apply(ctx, snap)
	})
	r.mu.Unlock()

	r.apply(ctx, r.sessions.Snapshot())
}

// CurrentUser returns the identity the runtime is synchronizing for,
// or empty when anonymous
func (r *Runtime) CurrentUser() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentUser
}

// apply reconciles the running synchronizers with a session snapshot
func (r *Runtime) apply(ctx context.Context, snap session.Snapshot) {
	var userID string
	if snap.Authenticated() {
		userID = snap.User.ID
	}

	r.mu.Lock()
	if r.closed || userID == r.currentUser {
		r.mu.Unlock()
		return
	}

	old := r.syncers
	r.syncers = nil
	r.currentUser = userID
	if userID != "" {
		r.syncers = make([]Syncer, 0, len(r.factories))
		for _, factory := range r.factories {
			r.syncers = append(r.syncers, factory())
		}
	}
	started := r.syncers
	r.mu.Unlock()

	for _, s := range old {
		s.Close()
	}
	if len(started) == 0 {
		r.log.Info().Msg("Identity gone; synchronizers stopped")
		return
	}

	running := 0
	for _, s := range started {
		if err := s.Start(ctx, userID); err != nil {
			// The other syncers keep running; a failed one is dropped
			r.log.Error().Err(err).Str("user_id", userID).Msg("Synchronizer start failed")
			s.Close()
			continue
		}
		running++
	}

	r.log.Info().Str("user_id", userID).Int("running", running).Msg("Synchronizers started")
}

// Close detaches from the session stream and stops any running
// synchronizers
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sub := r.sub
	r.sub = nil
	syncers := r.syncers
	r.syncers = nil
	r.currentUser = ""
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	for _, s := range syncers {
		s.Close()
	}
}
