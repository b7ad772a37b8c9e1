package models

import (
	"math"
	"time"
)

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DailyAttendanceCount aggregates one hostel day.
type DailyAttendanceCount struct {
	Date    time.Time `db:"attendance_date" json:"date"`
	Present int       `db:"present" json:"present"`
	Absent  int       `db:"absent" json:"absent"`
	Late    int       `db:"late" json:"late"`
	OnLeave int       `db:"on_leave" json:"on_leave"`
	Total   int       `db:"total" json:"total"`
}

// HostelAttendanceOverview summarises a hostel over a date range.
type HostelAttendanceOverview struct {
	HostelID   string                 `json:"hostel_id"`
	From       time.Time              `json:"from"`
	To         time.Time              `json:"to"`
	Days       []DailyAttendanceCount `json:"days"`
	Present    int                    `json:"present"`
	Absent     int                    `json:"absent"`
	Late       int                    `json:"late"`
	OnLeave    int                    `json:"on_leave"`
	Total      int                    `json:"total"`
	Percentage float64                `json:"percentage"`
	OpenAlerts int                    `json:"open_alerts"`
}

// StudentAttendanceStats is the per-student aggregate feeding risk scoring.
type StudentAttendanceStats struct {
	StudentID   string `db:"student_id" json:"student_id"`
	StudentName string `db:"student_name" json:"student_name"`
	RollNumber  string `db:"roll_number" json:"roll_number"`
	Present     int    `db:"present" json:"present"`
	Absent      int    `db:"absent" json:"absent"`
	Late        int    `db:"late" json:"late"`
	OnLeave     int    `db:"on_leave" json:"on_leave"`
	Total       int    `db:"total" json:"total"`
	Violations  int    `db:"violations" json:"violations"`
}

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskLevelFor maps a 0-100 score to its level.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score < 25:
		return RiskLevelLow
	case score < 50:
		return RiskLevelMedium
	case score < 75:
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// StudentRiskScore is a student's attendance risk over a range.
type StudentRiskScore struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	RollNumber  string    `json:"roll_number"`
	Score       float64   `json:"score"`
	Level       RiskLevel `json:"level"`
	AbsenceRate float64   `json:"absence_rate"`
	LateRate    float64   `json:"late_rate"`
	Violations  int       `json:"violations"`
}

// SystemMetricsSnapshot represents process level metrics captured from instrumentation.
type SystemMetricsSnapshot struct {
	CacheHitRatio            float64           `json:"cache_hit_ratio"`
	CacheHits                uint64            `json:"cache_hits"`
	CacheMisses              uint64            `json:"cache_misses"`
	RequestsTotal            uint64            `json:"requests_total"`
	AverageRequestDurationMs float64           `json:"average_request_duration_ms"`
	DBQueryCount             uint64            `json:"db_query_count"`
	AverageDBQueryDurationMs float64           `json:"average_db_query_duration_ms"`
	NotificationsDispatched  map[string]uint64 `json:"notifications_dispatched"`
	SweepFailures            map[string]uint64 `json:"sweep_failures"`
	Goroutines               int               `json:"goroutines"`
	GeneratedAt              time.Time         `json:"generated_at"`
}
