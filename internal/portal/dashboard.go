package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

// upcomingLimit bounds the appointment list on the dashboard
const upcomingLimit = 10

// recordLimit bounds the test result and vitals lists
const recordLimit = 20

// AppointmentStore is the slice of the row store the dashboard needs
// for appointments
type AppointmentStore interface {
	Upcoming(ctx context.Context, patientID string, limit int) ([]repository.Appointment, error)
}

// HealthStore is the slice of the row store the dashboard needs for
// health records
type HealthStore interface {
	ListTestResults(ctx context.Context, patientID string, limit int) ([]repository.TestResult, error)
	ListVitalSigns(ctx context.Context, patientID, kind string, limit int) ([]repository.VitalSign, error)
	ListMedications(ctx context.Context, patientID string, activeOnly bool) ([]repository.Medication, error)
}

// DashboardSnapshot is the per-user overview loaded at sign-in
type DashboardSnapshot struct {
	Appointments []repository.Appointment
	TestResults  []repository.TestResult
	VitalSigns   []repository.VitalSign
	Medications  []repository.Medication
}

// Dashboard loads a user's overview rows when their identity appears.
// All four reads run in parallel and each degrades to an empty list on
// failure, the same policy the notification load follows.
type Dashboard struct {
	appointments AppointmentStore
	health       HealthStore
	log          *logger.Logger

	mu       sync.Mutex
	userID   string
	snapshot DashboardSnapshot
	closed   bool
}

// NewDashboard constructs an idle dashboard; Start binds it to a user
func NewDashboard(appointments AppointmentStore, health HealthStore, log *logger.Logger) *Dashboard {
	return &Dashboard{appointments: appointments, health: health, log: log}
}

// Start binds the dashboard to a user and loads the overview
func (d *Dashboard) Start(ctx context.Context, userID string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("dashboard is closed")
	}
	if d.userID != "" {
		d.mu.Unlock()
		return fmt.Errorf("already started for user %s", d.userID)
	}
	d.userID = userID
	d.mu.Unlock()

	var (
		wg   sync.WaitGroup
		snap DashboardSnapshot
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		appointments, err := d.appointments.Upcoming(ctx, userID, upcomingLimit)
		if err != nil {
			d.log.Warn().Err(err).Str("user_id", userID).Msg("Appointment load failed; starting empty")
			return
		}
		snap.Appointments = appointments
	}()
	go func() {
		defer wg.Done()
		results, err := d.health.ListTestResults(ctx, userID, recordLimit)
		if err != nil {
			d.log.Warn().Err(err).Str("user_id", userID).Msg("Test result load failed; starting empty")
			return
		}
		snap.TestResults = results
	}()
	go func() {
		defer wg.Done()
		vitals, err := d.health.ListVitalSigns(ctx, userID, "", recordLimit)
		if err != nil {
			d.log.Warn().Err(err).Str("user_id", userID).Msg("Vital sign load failed; starting empty")
			return
		}
		snap.VitalSigns = vitals
	}()
	go func() {
		defer wg.Done()
		medications, err := d.health.ListMedications(ctx, userID, true)
		if err != nil {
			d.log.Warn().Err(err).Str("user_id", userID).Msg("Medication load failed; starting empty")
			return
		}
		snap.Medications = medications
	}()
	wg.Wait()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.snapshot = snap
	d.mu.Unlock()

	d.log.Info().Str("user_id", userID).
		Int("appointments", len(snap.Appointments)).
		Int("medications", len(snap.Medications)).
		Msg("Dashboard loaded")
	return nil
}

// Snapshot returns the loaded overview
func (d *Dashboard) Snapshot() DashboardSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

// Close clears the overview; results arriving afterwards are discarded
func (d *Dashboard) Close() {
	d.mu.Lock()
	d.closed = true
	d.snapshot = DashboardSnapshot{}
	d.mu.Unlock()
}
