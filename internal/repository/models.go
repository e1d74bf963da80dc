package repository

import "time"

// Role values a profile can carry
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleNurse   = "nurse"
	RoleAdmin   = "admin"
)

// Notification types
const (
	TypeAppointment = "appointment"
	TypeMessage     = "message"
	TypeTestResult  = "test_result"
	TypeMedication  = "medication"
	TypeSystem      = "system"
)

// Notification priorities
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Preferences is the jsonb preference blob on a profile
type Preferences struct {
	Language             string   `json:"language"`
	EmailNotifications   bool     `json:"email_notifications"`
	SMSNotifications     bool     `json:"sms_notifications"`
	PushNotifications    bool     `json:"push_notifications"`
	ShareDataForResearch bool     `json:"share_data_for_research"`
	ProfileVisibility    string   `json:"profile_visibility"`
	TwoFactorRecovery    []string `json:"two_factor_recovery,omitempty"`
}

// DefaultPreferences seeds a freshly registered profile
func DefaultPreferences() Preferences {
	return Preferences{
		Language:           "en",
		EmailNotifications: true,
		PushNotifications:  true,
		ProfileVisibility:  "providers_only",
	}
}

// Profile represents the application-level user record, distinct from
// the raw authentication credential held by the auth provider
type Profile struct {
	ID               string
	Email            string
	FirstName        string
	LastName         string
	Role             string
	Phone            *string
	DateOfBirth      *time.Time
	AvatarURL        *string
	TwoFactorEnabled bool
	BiometricEnabled bool
	Preferences      Preferences
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProfilePatch describes a partial profile update; nil fields are left
// untouched
type ProfilePatch struct {
	FirstName        *string
	LastName         *string
	Phone            *string
	AvatarURL        *string
	TwoFactorEnabled *bool
	BiometricEnabled *bool
	Preferences      *Preferences
}

// Notification represents an in-app notification row. JSON tags match
// the store's column names; the same shape travels inside row-change
// events.
type Notification struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	NotificationType string         `json:"notification_type"`
	Priority         string         `json:"priority"`
	IsRead           bool           `json:"is_read"`
	ActionURL        *string        `json:"action_url,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// CanDismiss reports whether the user may dismiss the notification
// without acting on it. Urgent notifications must be acted on.
func (n Notification) CanDismiss() bool {
	return n.Priority != PriorityUrgent
}

// RequiresAction reports whether the notification points somewhere
func (n Notification) RequiresAction() bool {
	return n.ActionURL != nil && *n.ActionURL != ""
}

// ActionLabel returns the call-to-action text for the notification type
func (n Notification) ActionLabel() string {
	switch n.NotificationType {
	case TypeAppointment:
		return "View appointment"
	case TypeMessage:
		return "Open conversation"
	case TypeTestResult:
		return "View results"
	case TypeMedication:
		return "View medication"
	default:
		return "View"
	}
}

// Appointment represents a scheduled visit between a patient and a provider
type Appointment struct {
	ID              string
	PatientID       string
	ProviderID      string
	ScheduledAt     time.Time
	DurationMinutes int
	AppointmentType string
	Status          string
	Reason          *string
	Notes           *string
	CreatedAt       time.Time
}

// Conversation groups messages between participants
type Conversation struct {
	ID        string
	Subject   *string
	CreatedAt time.Time
}

// ConversationParticipant tracks per-user read position in a conversation
type ConversationParticipant struct {
	ConversationID string
	UserID         string
	LastReadAt     *time.Time
}

// Message is a single message inside a conversation. Tagged like
// Notification because message rows also travel over the realtime
// channel.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TestResult is a lab or imaging result visible to the patient
type TestResult struct {
	ID          string
	PatientID   string
	TestName    string
	Result      string
	Unit        *string
	ReferenceLo *float64
	ReferenceHi *float64
	Status      string
	ResultedAt  time.Time
}

// VitalSign is a single recorded vital measurement
type VitalSign struct {
	ID         string
	PatientID  string
	Kind       string
	Value      float64
	Unit       string
	RecordedAt time.Time
}

// Medication is an active or historical prescription
type Medication struct {
	ID           string
	PatientID    string
	Name         string
	Dosage       string
	Frequency    string
	StartedAt    time.Time
	EndedAt      *time.Time
	PrescribedBy *string
}
