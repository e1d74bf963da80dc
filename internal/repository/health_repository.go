package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumina-health/portalsync/pkg/logger"
)

// HealthRecordRepository handles test result, vital sign and medication
// rows. All reads are per-patient; row-level policy on the store keeps
// providers and patients inside their own scope.
type HealthRecordRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewHealthRecordRepository creates a new health record repository
func NewHealthRecordRepository(db *pgxpool.Pool, log *logger.Logger) *HealthRecordRepository {
	return &HealthRecordRepository{db: db, log: log}
}

// ListTestResults retrieves a patient's most recent test results
func (r *HealthRecordRepository) ListTestResults(ctx context.Context, patientID string, limit int) ([]TestResult, error) {
	query := `
		SELECT id, patient_id, test_name, result, unit, reference_lo, reference_hi, status, resulted_at
		FROM test_results
		WHERE patient_id = $1
		ORDER BY resulted_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, translate(err, "failed to list test results")
	}
	defer rows.Close()

	results := make([]TestResult, 0)
	for rows.Next() {
		var t TestResult
		if err := rows.Scan(&t.ID, &t.PatientID, &t.TestName, &t.Result, &t.Unit,
			&t.ReferenceLo, &t.ReferenceHi, &t.Status, &t.ResultedAt); err != nil {
			return nil, translate(err, "failed to scan test result")
		}
		results = append(results, t)
	}

	return results, rows.Err()
}

// ListVitalSigns retrieves a patient's recent vitals, optionally
// filtered by kind (blood_pressure, heart_rate, ...)
func (r *HealthRecordRepository) ListVitalSigns(ctx context.Context, patientID, kind string, limit int) ([]VitalSign, error) {
	query := `
		SELECT id, patient_id, kind, value, unit, recorded_at
		FROM vital_signs
		WHERE patient_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY recorded_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, patientID, kind, limit)
	if err != nil {
		return nil, translate(err, "failed to list vital signs")
	}
	defer rows.Close()

	vitals := make([]VitalSign, 0)
	for rows.Next() {
		var v VitalSign
		if err := rows.Scan(&v.ID, &v.PatientID, &v.Kind, &v.Value, &v.Unit, &v.RecordedAt); err != nil {
			return nil, translate(err, "failed to scan vital sign")
		}
		vitals = append(vitals, v)
	}

	return vitals, rows.Err()
}

// InsertVitalSign records a measurement
func (r *HealthRecordRepository) InsertVitalSign(ctx context.Context, v *VitalSign) error {
	v.ID = uuid.New().String()

	query := `
		INSERT INTO vital_signs (id, patient_id, kind, value, unit, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query, v.ID, v.PatientID, v.Kind, v.Value, v.Unit, v.RecordedAt)
	if err != nil {
		return translate(err, "failed to record vital sign")
	}

	return nil
}

// ListMedications retrieves a patient's medications, active ones first
func (r *HealthRecordRepository) ListMedications(ctx context.Context, patientID string, activeOnly bool) ([]Medication, error) {
	query := `
		SELECT id, patient_id, name, dosage, frequency, started_at, ended_at, prescribed_by
		FROM medications
		WHERE patient_id = $1 AND ($2 = false OR ended_at IS NULL)
		ORDER BY ended_at IS NULL DESC, started_at DESC
	`

	rows, err := r.db.Query(ctx, query, patientID, activeOnly)
	if err != nil {
		return nil, translate(err, "failed to list medications")
	}
	defer rows.Close()

	medications := make([]Medication, 0)
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Frequency,
			&m.StartedAt, &m.EndedAt, &m.PrescribedBy); err != nil {
			return nil, translate(err, "failed to scan medication")
		}
		medications = append(medications, m)
	}

	return medications, rows.Err()
}
