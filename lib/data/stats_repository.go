package data

import (
	"context"
	"database/sql"
	"fmt"
	"manicure/lib/models"
	"time"

	"github.com/sirupsen/logrus"
)

// StatsRepository defines the administrative reports over the salon network.
// List methods return at most limit rows plus the total number of rows.
type StatsRepository interface {
	GetNetworkStats(ctx context.Context, now time.Time) (*models.NetworkStats, error)
	ListSalonUsage(ctx context.Context, limit int) ([]models.SalonUsage, int, error)
	ListMasterRanking(ctx context.Context, limit int) ([]models.MasterRanking, int, error)
	GetPeriodStats(ctx context.Context, now time.Time) (*models.PeriodStats, error)
}

// StatsDao implements the StatsRepository interface for PostgreSQL
type StatsDao struct {
	DB     *sql.DB
	Logger *logrus.Logger
}

// GetNetworkStats totals salons, masters, analyses and quota of active salons
func (dao *StatsDao) GetNetworkStats(ctx context.Context, now time.Time) (*models.NetworkStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM salon.organizations WHERE is_active = true),
			(SELECT COUNT(*) FROM salon.members m
				INNER JOIN salon.organizations o ON o.id = m.organization_id
				WHERE m.is_active = true AND o.is_active = true),
			(SELECT COUNT(*) FROM salon.tasks WHERE analysis_started_at IS NOT NULL),
			(SELECT COUNT(*) FROM salon.tasks WHERE analysis_started_at >= $1),
			(SELECT COALESCE(SUM(quota_limit), 0) FROM salon.organizations WHERE is_active = true),
			(SELECT COALESCE(SUM(quota_used), 0) FROM salon.organizations WHERE is_active = true)
	`

	today, _, _ := models.StatsWindows(now)
	stats := models.NetworkStats{GeneratedAt: now}
	err := dao.DB.QueryRowContext(ctx, query, today).Scan(
		&stats.ActiveSalons,
		&stats.ActiveMasters,
		&stats.TotalAnalyses,
		&stats.AnalysesToday,
		&stats.QuotaLimit,
		&stats.QuotaUsed,
	)
	if err != nil {
		dao.Logger.WithError(err).WithField("operation", "GetNetworkStats").Error("Failed to get network statistics")
		return nil, fmt.Errorf("failed to get network statistics: %w", err)
	}

	stats.Summarize()
	return &stats, nil
}

// ListSalonUsage ranks active salons by quota usage
func (dao *StatsDao) ListSalonUsage(ctx context.Context, limit int) ([]models.SalonUsage, int, error) {
	query := `
		SELECT o.id, o.name, o.location, o.quota_limit, o.quota_used,
			COUNT(m.id) FILTER (WHERE m.is_active = true),
			COUNT(*) OVER ()
		FROM salon.organizations o
		LEFT JOIN salon.members m ON m.organization_id = o.id
		WHERE o.is_active = true
		GROUP BY o.id
		ORDER BY o.quota_used DESC, o.name
		LIMIT $1
	`

	rows, err := dao.DB.QueryContext(ctx, query, limit)
	if err != nil {
		dao.Logger.WithError(err).WithField("operation", "ListSalonUsage").Error("Failed to list salon usage")
		return nil, 0, fmt.Errorf("failed to list salon usage: %w", err)
	}
	defer rows.Close()

	salons := []models.SalonUsage{}
	total := 0
	for rows.Next() {
		var org models.Organization
		var usage models.SalonUsage
		if err := rows.Scan(&org.OrgID, &org.Name, &org.Location, &org.QuotaLimit, &org.QuotaUsed, &usage.ActiveMasters, &total); err != nil {
			dao.Logger.WithError(err).WithField("operation", "ListSalonUsage").Error("Failed to scan salon usage row")
			return nil, 0, fmt.Errorf("failed to scan salon usage: %w", err)
		}
		usage.QuotaResponse = models.NewQuotaResponse(&org)
		usage.Location = org.Location
		usage.UsageLevel = models.UsageLevel(usage.UsagePercent)
		salons = append(salons, usage)
	}

	if err = rows.Err(); err != nil {
		dao.Logger.WithError(err).WithField("operation", "ListSalonUsage").Error("Row iteration error")
		return nil, 0, err
	}

	return salons, total, nil
}

// ListMasterRanking ranks active masters by finalized tasks. The share is
// taken over all active masters, not only the returned ones.
func (dao *StatsDao) ListMasterRanking(ctx context.Context, limit int) ([]models.MasterRanking, int, error) {
	query := `
		SELECT m.id, m.display_name, o.id, o.name, m.completed_task_count,
			SUM(m.completed_task_count) OVER (),
			COUNT(*) OVER ()
		FROM salon.members m
		INNER JOIN salon.organizations o ON o.id = m.organization_id
		WHERE m.is_active = true AND o.is_active = true
		ORDER BY m.completed_task_count DESC, m.id
		LIMIT $1
	`

	rows, err := dao.DB.QueryContext(ctx, query, limit)
	if err != nil {
		dao.Logger.WithError(err).WithField("operation", "ListMasterRanking").Error("Failed to list master ranking")
		return nil, 0, fmt.Errorf("failed to list master ranking: %w", err)
	}
	defer rows.Close()

	masters := []models.MasterRanking{}
	total := 0
	for rows.Next() {
		var ranking models.MasterRanking
		var allCompleted int
		if err := rows.Scan(
			&ranking.MemberID,
			&ranking.DisplayName,
			&ranking.OrgID,
			&ranking.SalonName,
			&ranking.CompletedTaskCount,
			&allCompleted,
			&total,
		); err != nil {
			dao.Logger.WithError(err).WithField("operation", "ListMasterRanking").Error("Failed to scan master ranking row")
			return nil, 0, fmt.Errorf("failed to scan master ranking: %w", err)
		}
		ranking.Rank = len(masters) + 1
		if allCompleted > 0 {
			ranking.SharePercent = float64(ranking.CompletedTaskCount) / float64(allCompleted) * 100
		}
		masters = append(masters, ranking)
	}

	if err = rows.Err(); err != nil {
		dao.Logger.WithError(err).WithField("operation", "ListMasterRanking").Error("Row iteration error")
		return nil, 0, err
	}

	return masters, total, nil
}

// GetPeriodStats counts analyses started today and over the last 7 and 30
// days, and masters registered over the last 7 days
func (dao *StatsDao) GetPeriodStats(ctx context.Context, now time.Time) (*models.PeriodStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE analysis_started_at >= $1),
			COUNT(*) FILTER (WHERE analysis_started_at >= $2),
			COUNT(*) FILTER (WHERE analysis_started_at >= $3),
			(SELECT COUNT(*) FROM salon.members WHERE created_at >= $2)
		FROM salon.tasks
	`

	today, week, month := models.StatsWindows(now)
	stats := models.PeriodStats{GeneratedAt: now}
	err := dao.DB.QueryRowContext(ctx, query, today, week, month).Scan(
		&stats.AnalysesToday,
		&stats.AnalysesWeek,
		&stats.AnalysesMonth,
		&stats.NewMastersWeek,
	)
	if err != nil {
		dao.Logger.WithError(err).WithField("operation", "GetPeriodStats").Error("Failed to get period statistics")
		return nil, fmt.Errorf("failed to get period statistics: %w", err)
	}

	stats.AverageDailyWeek = float64(stats.AnalysesWeek) / 7
	return &stats, nil
}
