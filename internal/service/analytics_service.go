package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/models"
	appErrors "github.com/noah-isme/hostel-api/pkg/errors"
)

// AnalyticsRepository describes the read-optimised queries behind AnalyticsService.
type AnalyticsRepository interface {
	DailyCounts(ctx context.Context, hostelID string, from, to time.Time) ([]models.DailyAttendanceCount, error)
	StudentStats(ctx context.Context, hostelID string, from, to time.Time) ([]models.StudentAttendanceStats, error)
}

type openAlertCounter interface {
	CountOpenByHostel(ctx context.Context, hostelID string) (int, error)
}

// AnalyticsConfig tunes caching and the default reporting window.
type AnalyticsConfig struct {
	CacheTTL      time.Duration
	DefaultWindow time.Duration
}

// AnalyticsService serves cached hostel attendance overviews and risk scores.
type AnalyticsService struct {
	repo    AnalyticsRepository
	alerts  openAlertCounter
	hostels hostelReader
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	config  AnalyticsConfig
	now     func() time.Time
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(repo AnalyticsRepository, alerts openAlertCounter, hostels hostelReader, cache *CacheService, metrics *MetricsService, logger *zap.Logger, config AnalyticsConfig) *AnalyticsService {
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = 30 * 24 * time.Hour
	}
	return &AnalyticsService{
		repo:    repo,
		alerts:  alerts,
		hostels: hostels,
		cache:   cache,
		metrics: metrics,
		logger:  defaultLogger(logger),
		config:  config,
		now:     time.Now,
	}
}

// HostelOverview returns daily counts and totals for a hostel. The boolean
// reports whether the result came from cache.
func (s *AnalyticsService) HostelOverview(ctx context.Context, hostelID string, from, to *time.Time) (*models.HostelAttendanceOverview, bool, error) {
	start, end, err := s.prepare(ctx, hostelID, from, to)
	if err != nil {
		return nil, false, err
	}
	key := makeAnalyticsCacheKey(hostelID, "overview", formatDay(start), formatDay(end))
	overview, hit, err := cachedLoad(ctx, s.cache, key, s.config.CacheTTL, func(ctx context.Context) (*models.HostelAttendanceOverview, error) {
		return s.loadOverview(ctx, hostelID, start, end)
	})
	if err != nil {
		return nil, false, err
	}
	return overview, hit, nil
}

// RiskScores ranks a hostel's residents by attendance risk, highest first.
func (s *AnalyticsService) RiskScores(ctx context.Context, hostelID string, from, to *time.Time) ([]models.StudentRiskScore, bool, error) {
	start, end, err := s.prepare(ctx, hostelID, from, to)
	if err != nil {
		return nil, false, err
	}
	key := makeAnalyticsCacheKey(hostelID, "risk", formatDay(start), formatDay(end))
	scores, hit, err := cachedLoad(ctx, s.cache, key, s.config.CacheTTL, func(ctx context.Context) ([]models.StudentRiskScore, error) {
		begin := time.Now()
		stats, err := s.repo.StudentStats(ctx, hostelID, start, end)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load student attendance")
		}
		s.metrics.ObserveDBQuery("analytics_student_stats", time.Since(begin))
		return rankRisk(stats), nil
	})
	if err != nil {
		return nil, false, err
	}
	return scores, hit, nil
}

// SystemMetrics returns the process instrumentation snapshot.
func (s *AnalyticsService) SystemMetrics() models.SystemMetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *AnalyticsService) prepare(ctx context.Context, hostelID string, from, to *time.Time) (time.Time, time.Time, error) {
	if _, err := s.hostels.FindByID(ctx, hostelID); err != nil {
		return time.Time{}, time.Time{}, lookupError(err, "hostel not found", "failed to load hostel")
	}
	return windowRange(s.now(), s.config.DefaultWindow, from, to)
}

func (s *AnalyticsService) loadOverview(ctx context.Context, hostelID string, from, to time.Time) (*models.HostelAttendanceOverview, error) {
	begin := time.Now()
	days, err := s.repo.DailyCounts(ctx, hostelID, from, to)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load attendance overview")
	}
	s.metrics.ObserveDBQuery("analytics_daily_counts", time.Since(begin))

	overview := &models.HostelAttendanceOverview{HostelID: hostelID, From: from, To: to, Days: days}
	if overview.Days == nil {
		overview.Days = []models.DailyAttendanceCount{}
	}
	for _, d := range days {
		overview.Present += d.Present
		overview.Absent += d.Absent
		overview.Late += d.Late
		overview.OnLeave += d.OnLeave
		overview.Total += d.Total
	}
	summary := models.AttendanceSummary{Present: overview.Present, Late: overview.Late, OnLeave: overview.OnLeave, Total: overview.Total}
	summary.ComputePercentage()
	overview.Percentage = summary.Percentage

	if s.alerts != nil {
		open, err := s.alerts.CountOpenByHostel(ctx, hostelID)
		if err != nil {
			s.logger.Warn("failed to count open alerts", zap.String("hostel_id", hostelID), zap.Error(err))
		}
		overview.OpenAlerts = open
	}
	return overview, nil
}

// riskScore weights absences, lateness and capped unresolved alerts into 0-100.
func riskScore(st models.StudentAttendanceStats) models.StudentRiskScore {
	out := models.StudentRiskScore{
		StudentID:   st.StudentID,
		StudentName: st.StudentName,
		RollNumber:  st.RollNumber,
		Violations:  st.Violations,
	}
	var raw float64
	if counted := st.Total - st.OnLeave; counted > 0 {
		absence := float64(st.Absent) / float64(counted)
		late := float64(st.Late) / float64(counted)
		out.AbsenceRate = models.Round2(absence)
		out.LateRate = models.Round2(late)
		raw = 50*absence + 20*late
	}
	violations := st.Violations
	if violations > 3 {
		violations = 3
	}
	raw += 10 * float64(violations)
	out.Score = models.Round2(math.Max(0, math.Min(100, raw)))
	out.Level = models.RiskLevelFor(out.Score)
	return out
}

func rankRisk(stats []models.StudentAttendanceStats) []models.StudentRiskScore {
	scores := make([]models.StudentRiskScore, 0, len(stats))
	for _, st := range stats {
		scores = append(scores, riskScore(st))
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].StudentName < scores[j].StudentName
	})
	return scores
}

// analyticsCachePattern matches every analytics entry cached for a hostel.
func analyticsCachePattern(hostelID string) string {
	return makeAnalyticsCacheKey(hostelID) + ":*"
}

func makeAnalyticsCacheKey(parts ...string) string {
	var builder strings.Builder
	builder.Grow(len(parts) * 16)
	builder.WriteString("analytics:attendance")
	for _, part := range parts {
		if part == "" {
			continue
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}

func formatDay(t time.Time) string {
	return t.Format("2006-01-02")
}
