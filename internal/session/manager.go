package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumina-health/portalsync/internal/auth"
	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
	"github.com/lumina-health/portalsync/pkg/passcode"
)

var (
	ErrNotLoggedIn         = errors.New("no user is logged in")
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")
)

// DefaultInitTimeout bounds Initialize; a provider that has not
// answered by then yields an anonymous, initialized session so callers
// are never stuck
const DefaultInitTimeout = 10 * time.Second

const recoveryCodeCount = 8

// ProfileStore is the slice of the row store the manager needs
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*repository.Profile, error)
	Create(ctx context.Context, profile *repository.Profile) error
	Update(ctx context.Context, id string, patch repository.ProfilePatch) (*repository.Profile, error)
}

// Snapshot is the externally visible session state
type Snapshot struct {
	User          *repository.Profile
	IsLoading     bool
	IsInitialized bool
}

// Authenticated reports whether a user is signed in
func (s Snapshot) Authenticated() bool {
	return s.User != nil
}

// Subscription is the handle for a snapshot listener
type Subscription struct {
	unsubscribe func()
}

// Unsubscribe removes the listener
func (s *Subscription) Unsubscribe() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Manager owns the authoritative view of who is logged in. It starts
// loading, resolves to authenticated or anonymous, and thereafter
// follows provider session events and explicit calls.
type Manager struct {
	provider    auth.Provider
	profiles    ProfileStore
	log         *logger.Logger
	initTimeout time.Duration

	mu           sync.Mutex
	user         *repository.Profile
	loading      bool
	initialized  bool
	closed       bool
	authSub      *auth.Subscription
	listeners    map[int]func(Snapshot)
	nextListener int
}

// Option customizes manager construction
type Option func(*Manager)

// WithInitTimeout overrides the Initialize deadline
func WithInitTimeout(d time.Duration) Option {
	return func(m *Manager) { m.initTimeout = d }
}

// NewManager constructs a manager in the loading state and attaches it
// to the provider's session-change stream
func NewManager(provider auth.Provider, profiles ProfileStore, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		provider:    provider,
		profiles:    profiles,
		log:         log,
		initTimeout: DefaultInitTimeout,
		loading:     true,
		listeners:   make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.authSub = provider.OnSessionChange(m.handleAuthEvent)
	return m
}

// Snapshot returns the current session state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	var user *repository.Profile
	if m.user != nil {
		copied := *m.user
		user = &copied
	}
	return Snapshot{User: user, IsLoading: m.loading, IsInitialized: m.initialized}
}

// Subscribe registers a listener invoked on every state change
func (m *Manager) Subscribe(fn func(Snapshot)) *Subscription {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return &Subscription{unsubscribe: func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}}
}

// Initialize resolves any existing provider session into local state.
// It never returns an error for read-path failures: the caller gets an
// anonymous session instead of a blocked UI. The deadline also cancels
// the in-flight provider call.
func (m *Manager) Initialize(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()

	sess, err := m.provider.CurrentSession(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Session lookup failed; starting anonymous")
		m.finishInit(nil)
		return
	}
	if sess == nil {
		m.finishInit(nil)
		return
	}

	profile, err := m.profiles.GetByID(ctx, sess.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			// Orphaned session: a credential without a profile row is
			// treated as invalid
			m.log.Warn().Str("user_id", sess.UserID).Msg("Session has no profile; forcing sign-out")
			if signOutErr := m.provider.SignOut(ctx); signOutErr != nil {
				m.log.Error().Err(signOutErr).Msg("Forced sign-out failed")
			}
		} else {
			m.log.Error().Err(err).Str("user_id", sess.UserID).Msg("Profile fetch failed during init")
		}
		m.finishInit(nil)
		return
	}

	m.finishInit(profile)
}

// finishInit transitions out of loading exactly once
func (m *Manager) finishInit(profile *repository.Profile) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if profile != nil {
		m.user = profile
	}
	m.loading = false
	m.initialized = true
	m.notifyAndUnlock()
}

// handleAuthEvent reacts to provider session changes, in delivery order
func (m *Manager) handleAuthEvent(ev auth.Event) {
	switch ev.Kind {
	case auth.SignedIn:
		if ev.Session == nil {
			return
		}
		m.fetchAndStore(ev.Session.UserID)

	case auth.SignedOut:
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.user = nil
		m.loading = false
		m.initialized = true
		m.notifyAndUnlock()

	case auth.TokenRefreshed:
		// Only fetch when nothing is cached, to avoid a redundant
		// round-trip on every refresh
		m.mu.Lock()
		cached := m.user != nil
		m.mu.Unlock()
		if !cached && ev.Session != nil {
			m.fetchAndStore(ev.Session.UserID)
		}
	}
}

// fetchAndStore loads a profile and installs it; results arriving
// after Close are discarded. The fetch error is returned so callers on
// the direct path can surface it; the event path ignores it.
func (m *Manager) fetchAndStore(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.initTimeout)
	defer cancel()

	profile, err := m.profiles.GetByID(ctx, userID)
	if err != nil {
		m.log.Error().Err(err).Str("user_id", userID).Msg("Profile fetch failed")
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return err
		}
		m.loading = false
		m.initialized = true
		m.notifyAndUnlock()
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.user = profile
	m.loading = false
	m.initialized = true
	m.notifyAndUnlock()
	return nil
}

// Login verifies credentials with the provider, then fetches the
// profile directly rather than waiting for the event path; whichever
// path lands first, both install the same state. A profile fetch
// failure after a successful sign-in is returned: the credential is
// valid remotely but the caller's session stays anonymous.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	sess, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := m.fetchAndStore(sess.UserID); err != nil {
		return fmt.Errorf("login succeeded but profile load failed: %w", err)
	}

	m.log.Info().Str("user_id", sess.UserID).Msg("Login complete")
	return nil
}

// RegisterRequest is the profile draft captured at registration
type RegisterRequest struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Role        string
	Phone       *string
	DateOfBirth *time.Time
}

// Register creates the credential, then the profile row seeded with
// default preferences. A profile failure after credential creation
// leaves an orphaned credential; there is no compensating delete.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*repository.Profile, error) {
	cred, err := m.provider.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	role := req.Role
	if role == "" {
		role = repository.RolePatient
	}

	profile := &repository.Profile{
		ID:          cred.UserID,
		Email:       cred.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        role,
		Phone:       req.Phone,
		DateOfBirth: req.DateOfBirth,
		Preferences: repository.DefaultPreferences(),
	}

	if err := m.profiles.Create(ctx, profile); err != nil {
		m.log.Error().Err(err).Str("user_id", cred.UserID).Msg("Profile creation failed after sign-up")
		return nil, fmt.Errorf("profile creation failed: %w", err)
	}

	m.log.Info().Str("user_id", profile.ID).Str("role", profile.Role).Msg("Registered")
	return profile, nil
}

// Logout signs out remotely and clears the cached profile
// unconditionally, even when the remote call fails
func (m *Manager) Logout(ctx context.Context) error {
	err := m.provider.SignOut(ctx)

	m.mu.Lock()
	if !m.closed {
		m.user = nil
		m.loading = false
		m.initialized = true
		m.notifyAndUnlock()
	} else {
		m.mu.Unlock()
	}

	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

// UpdateUser applies a partial profile update; the server's returned
// row replaces the cached copy
func (m *Manager) UpdateUser(ctx context.Context, patch repository.ProfilePatch) (*repository.Profile, error) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	userID := m.user.ID
	m.mu.Unlock()

	updated, err := m.profiles.Update(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("profile update failed: %w", err)
	}

	m.mu.Lock()
	if !m.closed {
		m.user = updated
		m.notifyAndUnlock()
	} else {
		m.mu.Unlock()
	}

	return updated, nil
}

// ResetPassword asks the provider to email a recovery link
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := m.provider.ResetPasswordEmail(ctx, email); err != nil {
		return fmt.Errorf("password reset failed: %w", err)
	}
	return nil
}

// EnableTwoFactor turns on two-factor auth and returns freshly minted
// recovery codes. Only hashes are stored; the plaintext codes are shown
// once.
func (m *Manager) EnableTwoFactor(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	prefs := m.user.Preferences
	m.mu.Unlock()

	codes, err := passcode.Generate(recoveryCodeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recovery codes: %w", err)
	}

	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		h, err := passcode.Hash(code, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		hashes = append(hashes, h)
	}

	prefs.TwoFactorRecovery = hashes
	enabled := true
	if _, err := m.UpdateUser(ctx, repository.ProfilePatch{
		TwoFactorEnabled: &enabled,
		Preferences:      &prefs,
	}); err != nil {
		return nil, err
	}

	return codes, nil
}

// DisableTwoFactor turns two-factor auth off and discards recovery
// hashes
func (m *Manager) DisableTwoFactor(ctx context.Context) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return ErrNotLoggedIn
	}
	prefs := m.user.Preferences
	m.mu.Unlock()

	prefs.TwoFactorRecovery = nil
	disabled := false
	_, err := m.UpdateUser(ctx, repository.ProfilePatch{
		TwoFactorEnabled: &disabled,
		Preferences:      &prefs,
	})
	return err
}

// VerifyTwoFactor checks a recovery code against the stored hashes and
// burns it on success
func (m *Manager) VerifyTwoFactor(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return ErrNotLoggedIn
	}
	prefs := m.user.Preferences
	m.mu.Unlock()

	idx, err := passcode.VerifyAny(code, prefs.TwoFactorRecovery)
	if err != nil {
		return fmt.Errorf("recovery code check failed: %w", err)
	}
	if idx < 0 {
		return ErrInvalidRecoveryCode
	}

	remaining := make([]string, 0, len(prefs.TwoFactorRecovery)-1)
	remaining = append(remaining, prefs.TwoFactorRecovery[:idx]...)
	remaining = append(remaining, prefs.TwoFactorRecovery[idx+1:]...)
	prefs.TwoFactorRecovery = remaining

	_, err = m.UpdateUser(ctx, repository.ProfilePatch{Preferences: &prefs})
	return err
}

// Close detaches from the provider stream; state mutations attempted
// afterwards are discarded
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sub := m.authSub
	m.authSub = nil
	m.listeners = make(map[int]func(Snapshot))
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// notifyAndUnlock snapshots state under the held lock, releases it,
// then fans out so listeners can call back into the manager
func (m *Manager) notifyAndUnlock() {
	snapshot := m.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
