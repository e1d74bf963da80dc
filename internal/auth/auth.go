package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNoSession          = errors.New("no active session")
)

// EventKind identifies a session-change event
type EventKind string

const (
	SignedIn       EventKind = "signed_in"
	SignedOut      EventKind = "signed_out"
	TokenRefreshed EventKind = "token_refreshed"
)

// Session is the provider-issued authentication state for one user
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
	Email        string
}

// Credential is the raw auth record created at sign-up, before any
// profile row exists
type Credential struct {
	UserID string
	Email  string
}

// Event is a session change pushed to listeners. Session is nil for
// signed-out events.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Subscription is the handle for a session-change listener
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe removes the listener; no events are delivered after it
// returns
func (s *Subscription) Unsubscribe() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Provider is the external auth service contract. Events are delivered
// to listeners strictly in the order the provider observed them.
type Provider interface {
	// CurrentSession returns the existing session, or nil when there
	// is none. A stale session with a usable refresh token is renewed
	// transparently.
	CurrentSession(ctx context.Context) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Credential, error)
	SignOut(ctx context.Context) error
	ResetPasswordEmail(ctx context.Context, email string) error
	OnSessionChange(fn func(Event)) *Subscription
}
