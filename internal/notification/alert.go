package notification

import (
	"sync"

	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// Alerter receives urgent notifications as they arrive in real time.
// Delivery is best effort: the synchronizer logs a failed Alert and
// moves on.
type Alerter interface {
	Alert(n repository.Notification) error
}

// NopAlerter discards every alert. It is the default sink.
type NopAlerter struct{}

func (NopAlerter) Alert(repository.Notification) error { return nil }

// LogAlerter writes each alert as a structured log line
type LogAlerter struct {
	Log *logger.Logger
}

func (a LogAlerter) Alert(n repository.Notification) error {
	a.Log.Info().
		Str("notification_id", n.ID).
		Str("priority", n.Priority).
		Str("title", n.Title).
		Msg("Urgent notification")
	return nil
}

// Permission is the user's standing answer to "may this app alert you"
type Permission string

const (
	// PermissionDefault means the user has not been asked yet
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// PermissionGate wraps an Alerter and forwards only while permission
// is granted. Denied and not-yet-asked both drop silently; dropping is
// not an error.
type PermissionGate struct {
	mu         sync.Mutex
	permission Permission
	next       Alerter
}

// NewPermissionGate starts in the not-yet-asked state
func NewPermissionGate(next Alerter) *PermissionGate {
	return &PermissionGate{permission: PermissionDefault, next: next}
}

// Permission returns the current standing answer
func (g *PermissionGate) Permission() Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permission
}

// Request records the user's answer. A denial is final for the life of
// the gate; asking again after a grant keeps the grant.
func (g *PermissionGate) Request(granted bool) Permission {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.permission == PermissionDenied {
		return g.permission
	}
	if granted {
		g.permission = PermissionGranted
	} else {
		g.permission = PermissionDenied
	}
	return g.permission
}

func (g *PermissionGate) Alert(n repository.Notification) error {
	g.mu.Lock()
	granted := g.permission == PermissionGranted
	g.mu.Unlock()
	if !granted {
		return nil
	}
	return g.next.Alert(n)
}
