package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/lumina-health/portalsync/pkg/logger"
)

// refreshLeeway is how long before token expiry the client renews it
const refreshLeeway = 30 * time.Second

// ClientConfig configures the HTTP auth client
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks to a GoTrue-compatible auth endpoint and fans session
// changes out to listeners. It implements Provider.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger

	// dispatchMu serializes event delivery so listeners observe
	// session changes strictly in order
	dispatchMu sync.Mutex

	mu           sync.Mutex
	session      *Session
	listeners    map[int]func(Event)
	nextListener int
	refreshTimer *time.Timer
	closed       bool
}

// NewClient creates an auth client against the given endpoint
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		http:      httpClient,
		log:       log,
		listeners: make(map[int]func(Event)),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"msg"`
}

// CurrentSession returns the active session, renewing it through the
// refresh token when the access token has gone stale
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}

	if time.Until(session.ExpiresAt) > refreshLeeway {
		copied := *session
		return &copied, nil
	}

	return c.refresh(ctx, session.RefreshToken)
}

// SignIn exchanges credentials for a session and announces signed-in
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=password", map[string]string{
		"email":    email,
		"password": password,
	}, "", &resp)
	if err != nil {
		return nil, err
	}

	session, err := c.sessionFromToken(resp)
	if err != nil {
		return nil, err
	}

	c.storeSession(session)
	c.emit(Event{Kind: SignedIn, Session: session})

	c.log.Info().Str("user_id", session.UserID).Msg("Signed in")
	return session, nil
}

// SignUp creates a credential. It does not sign the user in; callers
// follow up with profile creation and an explicit SignIn.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Credential, error) {
	var resp struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	err := c.post(ctx, "/signup", map[string]string{
		"email":    email,
		"password": password,
	}, "", &resp)
	if err != nil {
		return nil, err
	}

	c.log.Info().Str("user_id", resp.ID).Msg("Credential created")
	return &Credential{UserID: resp.ID, Email: resp.Email}, nil
}

// SignOut revokes the session remotely and always clears local state,
// announcing signed-out, even when the remote call fails
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.stopRefreshLocked()
	c.mu.Unlock()

	var err error
	if session != nil {
		err = c.post(ctx, "/logout", nil, session.AccessToken, nil)
	}

	c.emit(Event{Kind: SignedOut})

	if err != nil {
		return fmt.Errorf("remote sign-out failed: %w", err)
	}
	return nil
}

// ResetPasswordEmail asks the provider to send a recovery email
func (c *Client) ResetPasswordEmail(ctx context.Context, email string) error {
	return c.post(ctx, "/recover", map[string]string{"email": email}, "", nil)
}

// OnSessionChange registers a listener for session events
func (c *Client) OnSessionChange(fn func(Event)) *Subscription {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return &Subscription{unsubscribe: func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

// Close stops the refresh timer and drops all listeners
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRefreshLocked()
	c.listeners = make(map[int]func(Event))
}

// refresh exchanges the refresh token for a new session and announces
// token-refreshed. A rejected refresh token clears the session.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	}, "", &resp)
	if err != nil {
		c.mu.Lock()
		c.session = nil
		c.stopRefreshLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: SignedOut})
		return nil, fmt.Errorf("session refresh failed: %w", err)
	}

	session, err := c.sessionFromToken(resp)
	if err != nil {
		return nil, err
	}

	c.storeSession(session)
	c.emit(Event{Kind: TokenRefreshed, Session: session})

	return session, nil
}

// sessionFromToken builds a Session, preferring identity claims from
// the access token over the response body
func (c *Client) sessionFromToken(resp tokenResponse) (*Session, error) {
	userID, email, expiresAt, err := parseAccessToken(resp.AccessToken)
	if err != nil {
		// Fall back to the response body when the token is opaque
		userID, email = resp.User.ID, resp.User.Email
		expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if userID == "" {
		return nil, fmt.Errorf("token response carries no user identity")
	}

	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		UserID:       userID,
		Email:        email,
	}, nil
}

func (c *Client) storeSession(session *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.session = session
	c.scheduleRefreshLocked(session)
}

// scheduleRefreshLocked arms a timer to renew the session shortly
// before the access token expires
func (c *Client) scheduleRefreshLocked(session *Session) {
	c.stopRefreshLocked()

	wait := time.Until(session.ExpiresAt) - refreshLeeway
	if wait <= 0 {
		return
	}

	refreshToken := session.RefreshToken
	c.refreshTimer = time.AfterFunc(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := c.refresh(ctx, refreshToken); err != nil {
			c.log.Warn().Err(err).Msg("Background session refresh failed")
		}
	})
}

func (c *Client) stopRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

// emit delivers an event to all listeners in registration order.
// dispatchMu keeps deliveries sequential across concurrent emitters.
func (c *Client) emit(ev Event) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// post issues a JSON request against the auth endpoint and decodes the
// response into out when out is non-nil
func (c *Client) post(ctx context.Context, path string, body any, bearer string, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrInvalidCredentials, apiErr.message())
		case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrEmailTaken, apiErr.message())
		default:
			return fmt.Errorf("auth endpoint returned %d: %s", resp.StatusCode, apiErr.message())
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode auth response: %w", err)
		}
	}

	return nil
}

func (e errorResponse) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
