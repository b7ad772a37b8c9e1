package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
	"github.com/noah-isme/hostel-api/pkg/export"
)

type reportRowReader interface {
	ReportRows(ctx context.Context, hostelID string, from, to time.Time) ([]models.AttendanceRecordDetail, error)
}

// ExportFile is a rendered report ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService renders hostel attendance reports.
type ExportService struct {
	rows    reportRowReader
	hostels hostelReader
	logger  *zap.Logger
	window  time.Duration
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(rows reportRowReader, hostels hostelReader, logger *zap.Logger, window time.Duration) *ExportService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &ExportService{rows: rows, hostels: hostels, logger: defaultLogger(logger), window: window, now: time.Now}
}

var attendanceReportHeaders = []string{"Date", "Roll Number", "Student", "Room", "Status", "Check In", "Check Out", "Corrections", "Remarks"}

// AttendanceReport renders a hostel's attendance records between from and to
// as csv, xlsx or pdf.
func (s *ExportService) AttendanceReport(ctx context.Context, hostelID string, from, to *time.Time, rawFormat string) (*ExportFile, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, validationError(err, "unsupported export format")
	}
	hostel, err := s.hostels.FindByID(ctx, hostelID)
	if err != nil {
		return nil, lookupError(err, "hostel not found", "failed to load hostel")
	}
	start, end, err := windowRange(s.now(), s.window, from, to)
	if err != nil {
		return nil, err
	}

	records, err := s.rows.ReportRows(ctx, hostelID, start, end)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load attendance report")
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("Attendance %s %s to %s", hostel.Name, formatDay(start), formatDay(end)),
		Headers: attendanceReportHeaders,
		Rows:    make([]map[string]string, 0, len(records)),
	}
	for _, r := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Date":        formatDay(r.AttendanceDate),
			"Roll Number": r.RollNumber,
			"Student":     r.StudentName,
			"Room":        r.RoomNumber,
			"Status":      string(r.Status),
			"Check In":    formatClock(r.CheckInTime),
			"Check Out":   formatClock(r.CheckOutTime),
			"Corrections": strconv.Itoa(r.CorrectionCount),
			"Remarks":     deref(r.Remarks),
		})
	}

	payload, err := export.Render(format, dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render attendance report")
	}
	s.logger.Info("attendance report rendered",
		zap.String("hostel_id", hostelID),
		zap.String("format", string(format)),
		zap.Int("rows", len(records)),
	)
	return &ExportFile{
		Filename:    fmt.Sprintf("attendance_%s_%s_%s.%s", sanitizeFilename(hostel.Code), start.Format("20060102"), end.Format("20060102"), format),
		ContentType: format.ContentType(),
		Data:        payload,
		Rows:        len(records),
	}, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func formatClock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("15:04")
}
