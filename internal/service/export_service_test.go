package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

func newExportFixture() (*ExportService, *mockAnalyticsRepo) {
	checkIn := time.Date(2025, 3, 3, 20, 45, 0, 0, time.UTC)
	remark := "late bus"
	repo := &mockAnalyticsRepo{rows: []models.AttendanceRecordDetail{
		{
			AttendanceRecord: models.AttendanceRecord{AttendanceDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Status: models.AttendanceStatusPresent, CheckInTime: &checkIn},
			StudentName:      "Ayu Lestari", RollNumber: "R-001", RoomNumber: "101",
		},
		{
			AttendanceRecord: models.AttendanceRecord{AttendanceDate: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Status: models.AttendanceStatusAbsent, Remarks: &remark, CorrectionCount: 1},
			StudentName:      "Bima Putra", RollNumber: "R-002", RoomNumber: "102",
		},
	}}
	hostels := &mockHostelRepo{hostels: map[string]*models.Hostel{
		testHostelID: {ID: testHostelID, Name: "North Wing", Code: "NW 1", Capacity: 40, Active: true},
	}}
	svc := NewExportService(repo, hostels, zap.NewNop(), 0)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestAttendanceReportCSV(t *testing.T) {
	svc, repo := newExportFixture()
	file, err := svc.AttendanceReport(context.Background(), testHostelID, nil, nil, "")
	require.NoError(t, err)

	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "attendance_nw_1_20250209_20250310.csv", file.Filename)
	assert.Equal(t, 2, file.Rows)
	assert.Equal(t, time.Date(2025, 2, 9, 0, 0, 0, 0, time.UTC), repo.ranges[0][0])

	records, err := csv.NewReader(bytes.NewReader(file.Data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, attendanceReportHeaders, records[0])
	assert.Equal(t, []string{"2025-03-03", "R-001", "Ayu Lestari", "101", "PRESENT", "20:45", "", "0", ""}, records[1])
	assert.Equal(t, "late bus", records[2][8])
}

func TestAttendanceReportXLSXAndPDF(t *testing.T) {
	svc, _ := newExportFixture()

	xlsx, err := svc.AttendanceReport(context.Background(), testHostelID, nil, nil, "XLSX")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(xlsx.Data, []byte("PK")))

	pdf, err := svc.AttendanceReport(context.Background(), testHostelID, nil, nil, "pdf")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Data, []byte("%PDF")))
	assert.Equal(t, "application/pdf", pdf.ContentType)
}

func TestAttendanceReportValidation(t *testing.T) {
	svc, _ := newExportFixture()

	_, err := svc.AttendanceReport(context.Background(), testHostelID, nil, nil, "docx")
	assertCode(t, err, appErrors.ErrValidation)

	_, err = svc.AttendanceReport(context.Background(), "unknown", nil, nil, "csv")
	assertCode(t, err, appErrors.ErrNotFound)
}
