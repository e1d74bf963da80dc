package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/pkg/logger"
)

type fakeAppointments struct {
	rows []repository.Appointment
	err  error
}

func (f *fakeAppointments) Upcoming(ctx context.Context, patientID string, limit int) ([]repository.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []repository.Appointment
	for _, a := range f.rows {
		if a.PatientID == patientID && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeHealth struct {
	results     []repository.TestResult
	vitals      []repository.VitalSign
	medications []repository.Medication
	err         error
}

func (f *fakeHealth) ListTestResults(ctx context.Context, patientID string, limit int) ([]repository.TestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeHealth) ListVitalSigns(ctx context.Context, patientID, kind string, limit int) ([]repository.VitalSign, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vitals, nil
}

func (f *fakeHealth) ListMedications(ctx context.Context, patientID string, activeOnly bool) ([]repository.Medication, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.medications, nil
}

func TestDashboardLoadsOverview(t *testing.T) {
	appointments := &fakeAppointments{rows: []repository.Appointment{
		{ID: "apt-1", PatientID: "user-1", ScheduledAt: time.Now().Add(24 * time.Hour)},
		{ID: "apt-2", PatientID: "user-2", ScheduledAt: time.Now().Add(48 * time.Hour)},
	}}
	health := &fakeHealth{
		results:     []repository.TestResult{{ID: "tr-1", PatientID: "user-1"}},
		vitals:      []repository.VitalSign{{ID: "vs-1", PatientID: "user-1", Kind: "heart_rate"}},
		medications: []repository.Medication{{ID: "med-1", PatientID: "user-1"}},
	}
	d := NewDashboard(appointments, health, logger.Nop())
	t.Cleanup(d.Close)

	require.NoError(t, d.Start(context.Background(), "user-1"))

	snap := d.Snapshot()
	require.Len(t, snap.Appointments, 1)
	assert.Equal(t, "apt-1", snap.Appointments[0].ID)
	assert.Len(t, snap.TestResults, 1)
	assert.Len(t, snap.VitalSigns, 1)
	assert.Len(t, snap.Medications, 1)
}

func TestDashboardDegradesOnReadFailure(t *testing.T) {
	appointments := &fakeAppointments{err: errors.New("store down")}
	health := &fakeHealth{err: errors.New("store down")}
	d := NewDashboard(appointments, health, logger.Nop())
	t.Cleanup(d.Close)

	require.NoError(t, d.Start(context.Background(), "user-1"))

	snap := d.Snapshot()
	assert.Empty(t, snap.Appointments)
	assert.Empty(t, snap.TestResults)
	assert.Empty(t, snap.VitalSigns)
	assert.Empty(t, snap.Medications)
}

func TestDashboardStartTwiceFails(t *testing.T) {
	d := NewDashboard(&fakeAppointments{}, &fakeHealth{}, logger.Nop())
	t.Cleanup(d.Close)

	require.NoError(t, d.Start(context.Background(), "user-1"))
	assert.Error(t, d.Start(context.Background(), "user-1"))
}

func TestDashboardClose(t *testing.T) {
	health := &fakeHealth{medications: []repository.Medication{{ID: "med-1"}}}
	d := NewDashboard(&fakeAppointments{}, health, logger.Nop())

	require.NoError(t, d.Start(context.Background(), "user-1"))
	d.Close()

	assert.Empty(t, d.Snapshot().Medications)
	assert.Error(t, d.Start(context.Background(), "user-1"))
}
