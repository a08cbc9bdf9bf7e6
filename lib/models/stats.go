package models

import (
	"time"
)

// Usage levels of a salon quota
const (
	UsageLevelNormal   = "normal"
	UsageLevelWarning  = "warning"
	UsageLevelCritical = "critical"
)

// UsageLevel grades quota usage: warning from 80%, critical from 95%
func UsageLevel(usagePercent float64) string {
	switch {
	case usagePercent >= 95:
		return UsageLevelCritical
	case usagePercent >= 80:
		return UsageLevelWarning
	default:
		return UsageLevelNormal
	}
}

// NetworkStats are totals across all active salons. An analysis is a task
// whose analysis was started at least once.
type NetworkStats struct {
	ActiveSalons   int       `json:"active_salons"`
	ActiveMasters  int       `json:"active_masters"`
	TotalAnalyses  int       `json:"total_analyses"`
	AnalysesToday  int       `json:"analyses_today"`
	QuotaLimit     int       `json:"quota_limit"`
	QuotaUsed      int       `json:"quota_used"`
	QuotaRemaining int       `json:"quota_remaining"`
	UsagePercent   float64   `json:"usage_percent"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Summarize fills the derived quota fields
func (s *NetworkStats) Summarize() {
	s.QuotaRemaining = RemainingQuota(s.QuotaLimit, s.QuotaUsed)
	s.UsagePercent = 0
	if s.QuotaLimit > 0 {
		s.UsagePercent = float64(s.QuotaUsed) / float64(s.QuotaLimit) * 100
	}
}

// SalonUsage is one row of the salon activity report
type SalonUsage struct {
	QuotaResponse
	Location      string `json:"location"`
	ActiveMasters int    `json:"active_masters"`
	UsageLevel    string `json:"usage_level"`
}

// MasterRanking is one row of the master activity report
type MasterRanking struct {
	Rank               int     `json:"rank"`
	MemberID           int64   `json:"member_id"`
	DisplayName        string  `json:"display_name"`
	OrgID              int64   `json:"org_id"`
	SalonName          string  `json:"salon_name"`
	CompletedTaskCount int     `json:"completed_task_count"`
	SharePercent       float64 `json:"share_percent"`
}

// PeriodStats counts analyses and new masters over recent windows, each
// starting at midnight UTC
type PeriodStats struct {
	AnalysesToday    int       `json:"analyses_today"`
	AnalysesWeek     int       `json:"analyses_7_days"`
	AnalysesMonth    int       `json:"analyses_30_days"`
	NewMastersWeek   int       `json:"new_masters_7_days"`
	AverageDailyWeek float64   `json:"average_daily_7_days"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// StatsWindows returns the starts of the today, 7 day and 30 day windows
func StatsWindows(now time.Time) (today, week, month time.Time) {
	now = now.UTC()
	today = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today, today.AddDate(0, 0, -7), today.AddDate(0, 0, -30)
}
