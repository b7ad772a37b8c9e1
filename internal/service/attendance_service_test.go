package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/dto"
	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

const (
	studentA = "3c4d5e6f-7a8b-4c3d-8e4f-5a6b7c8d9e0f"
	studentB = "4d5e6f7a-8b9c-4d4e-9f5a-6b7c8d9e0f1a"
	studentC = "5e6f7a8b-9c0d-4e5f-8a6b-7c8d9e0f1a2b"
)

type mockAttendanceRepo struct {
	records       map[string]*models.AttendanceRecord
	raceOnCreate  bool
	summary       *models.AttendanceSummary
	recent        []models.AttendanceStatus
	rolledBack    bool
	listed        models.AttendanceFilter
	summaryRanges [][2]time.Time
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{records: map[string]*models.AttendanceRecord{}}
}

func attendanceKey(studentID string, date time.Time) string {
	return studentID + "|" + date.Format(dto.DateLayout)
}

func (m *mockAttendanceRepo) Create(ctx context.Context, record *models.AttendanceRecord) error {
	if m.raceOnCreate {
		return fmt.Errorf("create attendance: %w", &pq.Error{Code: "23505"})
	}
	record.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	c := *record
	m.records[attendanceKey(record.StudentID, record.AttendanceDate)] = &c
	return nil
}

func (m *mockAttendanceRepo) ExistsForDate(ctx context.Context, studentID string, date time.Time) (bool, error) {
	_, ok := m.records[attendanceKey(studentID, date)]
	return ok, nil
}

func (m *mockAttendanceRepo) byID(id string) *models.AttendanceRecord {
	for _, r := range m.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *mockAttendanceRepo) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	if r := m.byID(id); r != nil {
		c := *r
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttendanceRepo) FindForUpdate(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	return m.FindByID(ctx, id)
}

func (m *mockAttendanceRepo) ApplyCorrection(ctx context.Context, record *models.AttendanceRecord) error {
	record.CorrectionCount++
	c := *record
	m.records[attendanceKey(record.StudentID, record.AttendanceDate)] = &c
	return nil
}

func (m *mockAttendanceRepo) SetCheckOut(ctx context.Context, id string, at time.Time) error {
	r := m.byID(id)
	if r == nil {
		return sql.ErrNoRows
	}
	r.CheckOutTime = &at
	return nil
}

func (m *mockAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecordDetail, int, error) {
	m.listed = filter
	return nil, 0, nil
}

func (m *mockAttendanceRepo) Summary(ctx context.Context, studentID string, from, to time.Time) (*models.AttendanceSummary, error) {
	m.summaryRanges = append(m.summaryRanges, [2]time.Time{from, to})
	if m.summary != nil {
		c := *m.summary
		c.StudentID = studentID
		return &c, nil
	}
	return &models.AttendanceSummary{StudentID: studentID, From: from, To: to, Percentage: 100}, nil
}

func (m *mockAttendanceRepo) RecentStatuses(ctx context.Context, studentID string, asOf time.Time, limit int) ([]models.AttendanceStatus, error) {
	return m.recent, nil
}

type mockPolicyRepo struct {
	policy *models.AttendancePolicy
	saved  *models.AttendancePolicy
}

func (m *mockPolicyRepo) FindByHostel(ctx context.Context, hostelID string) (*models.AttendancePolicy, error) {
	if m.policy == nil {
		return nil, sql.ErrNoRows
	}
	return m.policy, nil
}

func (m *mockPolicyRepo) Upsert(ctx context.Context, policy *models.AttendancePolicy) error {
	m.saved = policy
	return nil
}

type mockStudentDirectory struct {
	students map[string]*models.StudentDetail
}

func (m *mockStudentDirectory) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentDirectory) ListActiveIDsByHostel(ctx context.Context, hostelID string) ([]string, error) {
	var ids []string
	for id, s := range m.students {
		if s.HostelID == hostelID && s.Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type mockCache struct {
	invalidated []string
}

func (m *mockCache) Invalidate(ctx context.Context, pattern string) error {
	m.invalidated = append(m.invalidated, pattern)
	return nil
}

// rollbackTx records changes made inside Do and discards them when fn fails.
type rollbackTx struct {
	repo *mockAttendanceRepo
}

func (r *rollbackTx) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := make(map[string]*models.AttendanceRecord, len(r.repo.records))
	for k, v := range r.repo.records {
		snapshot[k] = v
	}
	if err := fn(ctx); err != nil {
		r.repo.records = snapshot
		r.repo.rolledBack = true
		return err
	}
	return nil
}

func newStudentDirectory() *mockStudentDirectory {
	return &mockStudentDirectory{students: map[string]*models.StudentDetail{
		studentA: {Student: models.Student{ID: studentA, UserID: "user-a", HostelID: testHostelID, Active: true}, FullName: "Asha"},
		studentB: {Student: models.Student{ID: studentB, UserID: "user-b", HostelID: testHostelID, Active: true}, FullName: "Bima"},
		studentC: {Student: models.Student{ID: studentC, UserID: "user-c", HostelID: "other-hostel", Active: true}, FullName: "Citra"},
	}}
}

type attendanceFixture struct {
	svc      *AttendanceService
	repo     *mockAttendanceRepo
	policies *mockPolicyRepo
	cache    *mockCache
	audit    *mockAudit
}

func newAttendanceFixture() *attendanceFixture {
	f := &attendanceFixture{
		repo:     newMockAttendanceRepo(),
		policies: &mockPolicyRepo{},
		cache:    &mockCache{},
		audit:    &mockAudit{},
	}
	f.svc = NewAttendanceService(f.repo, f.policies, newStudentDirectory(), f.cache, f.audit, &rollbackTx{repo: f.repo}, nil, zap.NewNop(), AttendanceConfig{EvaluationWindow: 30 * 24 * time.Hour})
	f.svc.now = func() time.Time { return time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC) }
	return f
}

var wardenActor = models.Actor{UserID: testWardenID, Role: models.RoleWarden}

func TestAttendanceMarkDuplicateIsConflict(t *testing.T) {
	f := newAttendanceFixture()
	req := dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-10", Status: models.AttendanceStatusPresent}

	_, err := f.svc.Mark(context.Background(), wardenActor, req)
	require.NoError(t, err)

	_, err = f.svc.Mark(context.Background(), wardenActor, req)
	assertCode(t, err, appErrors.ErrConflict)
}

func TestAttendanceMarkUniqueViolationIsConflict(t *testing.T) {
	f := newAttendanceFixture()
	f.repo.raceOnCreate = true

	_, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-10", Status: models.AttendanceStatusAbsent})
	assertCode(t, err, appErrors.ErrConflict)
}

func TestAttendanceMarkDerivesLateFromCheckIn(t *testing.T) {
	f := newAttendanceFixture()
	// default policy: deadline 21:00 plus 15 minutes grace
	onTime := time.Date(2025, 3, 9, 21, 10, 0, 0, time.UTC)
	late := time.Date(2025, 3, 10, 21, 16, 0, 0, time.UTC)

	rec, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-09", CheckInTime: &onTime})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, rec.Status)

	rec, err = f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-10", CheckInTime: &late})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLate, rec.Status)
	assert.Equal(t, []string{analyticsCachePattern(testHostelID), analyticsCachePattern(testHostelID)}, f.cache.invalidated)
}

func TestAttendanceLateCutoffFollowsHostelTimezone(t *testing.T) {
	cases := []struct {
		name    string
		loc     *time.Location
		date    string
		checkIn time.Time
		want    models.AttendanceStatus
	}{
		// 15:00 UTC is 22:00 in UTC+7, past the 21:15 cutoff
		{name: "east of UTC late", loc: time.FixedZone("WIB", 7*60*60), date: "2025-03-10", checkIn: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC), want: models.AttendanceStatusLate},
		{name: "east of UTC on time", loc: time.FixedZone("WIB", 7*60*60), date: "2025-03-10", checkIn: time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC), want: models.AttendanceStatusPresent},
		// 21:30 UTC is 16:30 in UTC-5
		{name: "west of UTC on time", loc: time.FixedZone("EST", -5*60*60), date: "2025-03-09", checkIn: time.Date(2025, 3, 9, 21, 30, 0, 0, time.UTC), want: models.AttendanceStatusPresent},
		{name: "default UTC late", date: "2025-03-09", checkIn: time.Date(2025, 3, 9, 21, 30, 0, 0, time.UTC), want: models.AttendanceStatusLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAttendanceFixture()
			f.svc = NewAttendanceService(f.repo, f.policies, newStudentDirectory(), f.cache, f.audit, &rollbackTx{repo: f.repo}, nil, zap.NewNop(), AttendanceConfig{Location: tc.loc})
			f.svc.now = func() time.Time { return time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC) }

			checkIn := tc.checkIn
			rec, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: tc.date, CheckInTime: &checkIn})
			require.NoError(t, err)
			assert.Equal(t, tc.want, rec.Status)
		})
	}
}

func TestAttendanceMarkRejectsFutureDate(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-11", Status: models.AttendanceStatusPresent})
	assertCode(t, err, appErrors.ErrValidation)
}

func TestAttendanceMarkRequiresStatusOrCheckIn(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-10"})
	assertCode(t, err, appErrors.ErrValidation)
}

func TestAttendanceBulkAtomicRollsBack(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentB, Date: "2025-03-10", Status: models.AttendanceStatusPresent})
	require.NoError(t, err)

	_, err = f.svc.BulkMark(context.Background(), wardenActor, testHostelID, dto.BulkAttendanceRequest{
		Date: "2025-03-10",
		Mode: models.BulkModeAtomic,
		Items: []dto.BulkAttendanceItem{
			{StudentID: studentA, Status: models.AttendanceStatusPresent},
			{StudentID: studentB, Status: models.AttendanceStatusAbsent},
		},
	})
	assertCode(t, err, appErrors.ErrConflict)
	assert.True(t, f.repo.rolledBack)
	exists, _ := f.repo.ExistsForDate(context.Background(), studentA, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.False(t, exists)
}

func TestAttendanceBulkPartialReportsConflicts(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentB, Date: "2025-03-10", Status: models.AttendanceStatusPresent})
	require.NoError(t, err)

	result, err := f.svc.BulkMark(context.Background(), wardenActor, testHostelID, dto.BulkAttendanceRequest{
		Date: "2025-03-10",
		Mode: models.BulkModePartialOnError,
		Items: []dto.BulkAttendanceItem{
			{StudentID: studentA, Status: models.AttendanceStatusPresent},
			{StudentID: studentB, Status: models.AttendanceStatusAbsent},
			{StudentID: studentC, Status: models.AttendanceStatusAbsent},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, studentA, result.Created[0].StudentID)
	require.Len(t, result.Conflicts, 2)
	assert.Equal(t, studentB, result.Conflicts[0].StudentID)
	assert.Equal(t, studentC, result.Conflicts[1].StudentID)
}

func TestAttendanceBulkRejectsDuplicateStudents(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.BulkMark(context.Background(), wardenActor, testHostelID, dto.BulkAttendanceRequest{
		Date:  "2025-03-10",
		Items: []dto.BulkAttendanceItem{{StudentID: studentA, Status: models.AttendanceStatusPresent}, {StudentID: studentA, Status: models.AttendanceStatusLate}},
	})
	assertCode(t, err, appErrors.ErrConflict)
}

func TestAttendanceCorrectEnforcesLimit(t *testing.T) {
	f := newAttendanceFixture()
	policy := models.DefaultAttendancePolicy(testHostelID)
	policy.MaxCorrectionsPerRecord = 1
	f.policies.policy = &policy

	rec, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-10", Status: models.AttendanceStatusAbsent})
	require.NoError(t, err)

	present := models.AttendanceStatusPresent
	corrected, err := f.svc.Correct(context.Background(), wardenActor, rec.ID, dto.CorrectAttendanceRequest{Status: &present, Reason: "marked wrong"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, corrected.Status)
	assert.Equal(t, 1, corrected.CorrectionCount)
	assert.Contains(t, f.audit.actions(), models.AuditActionAttendanceCorrect)

	late := models.AttendanceStatusLate
	_, err = f.svc.Correct(context.Background(), wardenActor, rec.ID, dto.CorrectAttendanceRequest{Status: &late, Reason: "again"})
	assertCode(t, err, appErrors.ErrBusinessRule)
}

func TestAttendanceCorrectRequiresReason(t *testing.T) {
	f := newAttendanceFixture()
	present := models.AttendanceStatusPresent
	_, err := f.svc.Correct(context.Background(), wardenActor, "rec-x", dto.CorrectAttendanceRequest{Status: &present})
	assertCode(t, err, appErrors.ErrValidation)
}

func TestAttendanceCheckOutBeforeCheckIn(t *testing.T) {
	f := newAttendanceFixture()
	in := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	rec, err := f.svc.Mark(context.Background(), wardenActor, dto.MarkAttendanceRequest{StudentID: studentA, Date: "2025-03-10", CheckInTime: &in})
	require.NoError(t, err)

	early := in.Add(-time.Hour)
	_, err = f.svc.CheckOut(context.Background(), rec.ID, dto.CheckOutRequest{CheckOutTime: &early})
	assertCode(t, err, appErrors.ErrValidation)

	out := in.Add(time.Hour)
	updated, err := f.svc.CheckOut(context.Background(), rec.ID, dto.CheckOutRequest{CheckOutTime: &out})
	require.NoError(t, err)
	assert.Equal(t, out, *updated.CheckOutTime)
}

func TestAttendanceSummaryDefaultsToWindow(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.StudentSummary(context.Background(), studentA, nil, nil)
	require.NoError(t, err)
	require.Len(t, f.repo.summaryRanges, 1)
	assert.Equal(t, time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC), f.repo.summaryRanges[0][0])
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), f.repo.summaryRanges[0][1])
}

func TestAttendanceGetPolicyFallsBackToDefault(t *testing.T) {
	f := newAttendanceFixture()
	policy, err := f.svc.GetPolicy(context.Background(), testHostelID)
	require.NoError(t, err)
	assert.Equal(t, 75.0, policy.MinimumPercentage)
	assert.Equal(t, "21:00", policy.CheckInDeadline)
}

func TestAttendanceUpsertPolicyCrossField(t *testing.T) {
	f := newAttendanceFixture()
	_, err := f.svc.UpsertPolicy(context.Background(), testHostelID, dto.AttendancePolicyRequest{
		MinimumPercentage: 80, WarningPercentage: 70, CheckInDeadline: "21:00", MaxConsecutiveAbsences: 3, MaxLatePerWindow: 4,
	})
	assertCode(t, err, appErrors.ErrValidation)

	_, err = f.svc.UpsertPolicy(context.Background(), testHostelID, dto.AttendancePolicyRequest{
		MinimumPercentage: 70, WarningPercentage: 80, CheckInDeadline: "9pm", MaxConsecutiveAbsences: 3, MaxLatePerWindow: 4,
	})
	assertCode(t, err, appErrors.ErrValidation)

	policy, err := f.svc.UpsertPolicy(context.Background(), testHostelID, dto.AttendancePolicyRequest{
		MinimumPercentage: 70, WarningPercentage: 80, CheckInDeadline: "22:30", MaxConsecutiveAbsences: 3, MaxLatePerWindow: 4, MaxCorrectionsPerRecord: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, f.policies.saved, policy)
}
