package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

type mockAlertRepo struct {
	alerts        map[string]*models.AttendanceAlert
	staleOnUpdate bool
}

func newMockAlertRepo() *mockAlertRepo {
	return &mockAlertRepo{alerts: map[string]*models.AttendanceAlert{}}
}

func (m *mockAlertRepo) Create(ctx context.Context, alert *models.AttendanceAlert) error {
	alert.ID = fmt.Sprintf("alert-%d", len(m.alerts)+1)
	c := *alert
	m.alerts[alert.ID] = &c
	return nil
}

func (m *mockAlertRepo) FindByID(ctx context.Context, id string) (*models.AttendanceAlert, error) {
	if a, ok := m.alerts[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAlertRepo) HasUnresolved(ctx context.Context, studentID string, alertType models.AlertType) (bool, error) {
	for _, a := range m.alerts {
		if a.StudentID == studentID && a.AlertType == alertType && a.Status != models.AlertStatusResolved {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAlertRepo) List(ctx context.Context, filter models.AttendanceAlertFilter) ([]models.AttendanceAlert, int, error) {
	var out []models.AttendanceAlert
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (m *mockAlertRepo) Transition(ctx context.Context, id string, from, to models.AlertStatus, actorID string, note *string, at time.Time) error {
	a, ok := m.alerts[id]
	if !ok || a.Status != from || m.staleOnUpdate {
		return sql.ErrNoRows
	}
	a.Status = to
	return nil
}

type mockHostelIDs struct {
	ids []string
}

func (m *mockHostelIDs) ListActiveIDs(ctx context.Context) ([]string, error) {
	return m.ids, nil
}

func newAlertFixture(stats *mockAttendanceRepo) (*AttendanceAlertService, *mockAlertRepo, *mockNotifier) {
	alerts := newMockAlertRepo()
	notifier := &mockNotifier{}
	students := newStudentDirectory()
	delete(students.students, studentB)
	svc := NewAttendanceAlertService(alerts, stats, &mockPolicyRepo{}, students, &mockHostelIDs{ids: []string{testHostelID}}, notifier, nil, zap.NewNop(), 30*24*time.Hour)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC) }
	return svc, alerts, notifier
}

func TestEvaluateRaisesAlertsOnce(t *testing.T) {
	stats := newMockAttendanceRepo()
	stats.summary = &models.AttendanceSummary{Present: 10, Absent: 6, Late: 5, Total: 21}
	stats.summary.ComputePercentage()
	stats.recent = []models.AttendanceStatus{
		models.AttendanceStatusAbsent, models.AttendanceStatusOnLeave, models.AttendanceStatusAbsent, models.AttendanceStatusAbsent, models.AttendanceStatusPresent,
	}
	svc, alerts, notifier := newAlertFixture(stats)
	asOf := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	result, err := svc.Evaluate(context.Background(), testHostelID, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, result.StudentsChecked)
	require.Len(t, result.AlertsCreated, 3)

	types := map[models.AlertType]models.AlertSeverity{}
	for _, a := range result.AlertsCreated {
		types[a.AlertType] = a.Severity
		assert.Equal(t, models.AlertTriggerSystem, a.TriggeredBy)
		assert.Equal(t, studentA, a.StudentID)
	}
	// 15 of 21 attended is 71.43%, under the 75% default minimum
	assert.Equal(t, models.AlertSeverityHigh, types[models.AlertTypeLowAttendance])
	assert.Equal(t, models.AlertSeverityHigh, types[models.AlertTypeConsecutiveAbsence])
	assert.Equal(t, models.AlertSeverityMedium, types[models.AlertTypeExcessiveLate])
	assert.Len(t, notifier.sent, 3)
	assert.Equal(t, "user-a", notifier.sent[0].UserID)

	require.Len(t, stats.summaryRanges, 1)
	assert.Equal(t, time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC), stats.summaryRanges[0][0])

	again, err := svc.Evaluate(context.Background(), testHostelID, asOf)
	require.NoError(t, err)
	assert.Empty(t, again.AlertsCreated)
	assert.Equal(t, 3, again.SkippedDuplicate)
	assert.Len(t, alerts.alerts, 3)
}

func TestEvaluateDedupeSpansAcknowledgedAlerts(t *testing.T) {
	stats := newMockAttendanceRepo()
	stats.summary = &models.AttendanceSummary{Present: 14, Absent: 6, Total: 20}
	stats.summary.ComputePercentage()
	svc, _, _ := newAlertFixture(stats)
	asOf := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	first, err := svc.Evaluate(context.Background(), testHostelID, asOf)
	require.NoError(t, err)
	require.Len(t, first.AlertsCreated, 1)
	alertID := first.AlertsCreated[0].ID

	_, err = svc.Acknowledge(context.Background(), wardenActor, alertID)
	require.NoError(t, err)
	again, err := svc.Evaluate(context.Background(), testHostelID, asOf)
	require.NoError(t, err)
	assert.Empty(t, again.AlertsCreated)
	assert.Equal(t, 1, again.SkippedDuplicate)

	_, err = svc.Resolve(context.Background(), wardenActor, alertID, dto.ResolveAlertRequest{Note: "Guardian informed"})
	require.NoError(t, err)
	reopened, err := svc.Evaluate(context.Background(), testHostelID, asOf)
	require.NoError(t, err)
	require.Len(t, reopened.AlertsCreated, 1)
	assert.Equal(t, models.AlertTypeLowAttendance, reopened.AlertsCreated[0].AlertType)
}

func TestEvaluateWarningBand(t *testing.T) {
	stats := newMockAttendanceRepo()
	stats.summary = &models.AttendanceSummary{Present: 16, Absent: 4, Total: 20}
	stats.summary.ComputePercentage()
	svc, _, _ := newAlertFixture(stats)

	result, err := svc.Evaluate(context.Background(), testHostelID, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, result.AlertsCreated, 1)
	assert.Equal(t, models.AlertTypeLowAttendance, result.AlertsCreated[0].AlertType)
	assert.Equal(t, models.AlertSeverityMedium, result.AlertsCreated[0].Severity)
}

func TestEvaluateIgnoresStudentsWithoutRecords(t *testing.T) {
	svc, _, notifier := newAlertFixture(newMockAttendanceRepo())
	result, err := svc.Evaluate(context.Background(), testHostelID, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, result.AlertsCreated)
	assert.Empty(t, notifier.sent)
}

func TestAlertTransitions(t *testing.T) {
	svc, alerts, notifier := newAlertFixture(newMockAttendanceRepo())
	alert, err := svc.Create(context.Background(), wardenActor, dto.CreateAlertRequest{StudentID: studentA, Severity: models.AlertSeverityLow, Message: "Missed roll call"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertTypeManual, alert.AlertType)
	assert.Equal(t, []models.NotificationType{models.NotificationAttendanceAlert}, notifier.types())

	acked, err := svc.Acknowledge(context.Background(), wardenActor, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)

	_, err = svc.Acknowledge(context.Background(), wardenActor, alert.ID)
	assertCode(t, err, appErrors.ErrConflict)

	resolved, err := svc.Resolve(context.Background(), wardenActor, alert.ID, dto.ResolveAlertRequest{Note: "Spoke with guardian"})
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.Equal(t, models.AlertStatusResolved, alerts.alerts[alert.ID].Status)

	_, err = svc.Resolve(context.Background(), wardenActor, alert.ID, dto.ResolveAlertRequest{Note: "again"})
	assertCode(t, err, appErrors.ErrConflict)
}

func TestAlertConcurrentTransitionIsConflict(t *testing.T) {
	svc, alerts, _ := newAlertFixture(newMockAttendanceRepo())
	alert, err := svc.Create(context.Background(), wardenActor, dto.CreateAlertRequest{StudentID: studentA, Severity: models.AlertSeverityLow, Message: "x"})
	require.NoError(t, err)
	alerts.staleOnUpdate = true

	_, err = svc.Resolve(context.Background(), wardenActor, alert.ID, dto.ResolveAlertRequest{Note: "done"})
	assertCode(t, err, appErrors.ErrConflict)
}

func TestAbsenceStreak(t *testing.T) {
	assert.Equal(t, 0, absenceStreak(nil))
	assert.Equal(t, 2, absenceStreak([]models.AttendanceStatus{models.AttendanceStatusAbsent, models.AttendanceStatusAbsent, models.AttendanceStatusLate, models.AttendanceStatusAbsent}))
	assert.Equal(t, 1, absenceStreak([]models.AttendanceStatus{models.AttendanceStatusOnLeave, models.AttendanceStatusAbsent}))
}
