package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumina-health/portalsync/pkg/logger"
)

// Appointment statuses
const (
	AppointmentScheduled = "scheduled"
	AppointmentConfirmed = "confirmed"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// AppointmentRepository handles appointment row access
type AppointmentRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository(db *pgxpool.Pool, log *logger.Logger) *AppointmentRepository {
	return &AppointmentRepository{db: db, log: log}
}

const appointmentColumns = `id, patient_id, provider_id, scheduled_at, duration_minutes,
	   appointment_type, status, reason, notes, created_at`

func scanAppointment(row interface{ Scan(dest ...any) error }) (*Appointment, error) {
	a := &Appointment{}
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.AppointmentType,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Upcoming lists a patient's future appointments, soonest first
func (r *AppointmentRepository) Upcoming(ctx context.Context, patientID string, limit int) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE patient_id = $1 AND scheduled_at >= NOW() AND status != $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, patientID, AppointmentCancelled, limit)
	if err != nil {
		return nil, translate(err, "failed to list upcoming appointments")
	}
	defer rows.Close()

	appointments := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, translate(err, "failed to scan appointment")
		}
		appointments = append(appointments, *a)
	}

	return appointments, rows.Err()
}

// ForProvider lists a provider's appointments within a day window
func (r *AppointmentRepository) ForProvider(ctx context.Context, providerID string, from, to time.Time) ([]Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE provider_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at ASC
	`

	rows, err := r.db.Query(ctx, query, providerID, from, to)
	if err != nil {
		return nil, translate(err, "failed to list provider appointments")
	}
	defer rows.Close()

	appointments := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, translate(err, "failed to scan appointment")
		}
		appointments = append(appointments, *a)
	}

	return appointments, rows.Err()
}

// Create books an appointment
func (r *AppointmentRepository) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New().String()
	if a.Status == "" {
		a.Status = AppointmentScheduled
	}

	query := `
		INSERT INTO appointments (
			id, patient_id, provider_id, scheduled_at, duration_minutes,
			appointment_type, status, reason, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.PatientID, a.ProviderID, a.ScheduledAt, a.DurationMinutes,
		a.AppointmentType, a.Status, a.Reason, a.Notes,
	).Scan(&a.CreatedAt)

	if err != nil {
		return translate(err, "failed to create appointment")
	}

	return nil
}

// UpdateStatus transitions an appointment's status
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE appointments SET status = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return translate(err, fmt.Sprintf("failed to update appointment %s", id))
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("appointment", id)
	}

	return nil
}

// Cancel marks an appointment cancelled
func (r *AppointmentRepository) Cancel(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, AppointmentCancelled)
}
