package data

import (
	"context"
	"errors"
	"manicure/lib/models"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatsDao(t *testing.T) (*StatsDao, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &StatsDao{DB: db, Logger: logrus.New()}, mock
}

var startOfTestDay = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func TestStatsDao_GetNetworkStats(t *testing.T) {
	t.Run("totals with derived quota", func(t *testing.T) {
		dao, mock := newStatsDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM salon.tasks WHERE analysis_started_at >= $1")).
			WithArgs(startOfTestDay).
			WillReturnRows(sqlmock.NewRows([]string{"salons", "masters", "analyses", "today", "limit", "used"}).
				AddRow(3, 8, 120, 4, 200, 150))

		stats, err := dao.GetNetworkStats(context.Background(), testTime)

		require.NoError(t, err)
		assert.Equal(t, 3, stats.ActiveSalons)
		assert.Equal(t, 8, stats.ActiveMasters)
		assert.Equal(t, 120, stats.TotalAnalyses)
		assert.Equal(t, 4, stats.AnalysesToday)
		assert.Equal(t, 50, stats.QuotaRemaining)
		assert.InDelta(t, 75.0, stats.UsagePercent, 0.001)
		assert.Equal(t, testTime, stats.GeneratedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("usage above a lowered limit leaves nothing remaining", func(t *testing.T) {
		dao, mock := newStatsDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM salon.organizations WHERE is_active = true")).
			WillReturnRows(sqlmock.NewRows([]string{"salons", "masters", "analyses", "today", "limit", "used"}).
				AddRow(1, 1, 9, 0, 5, 9))

		stats, err := dao.GetNetworkStats(context.Background(), testTime)

		require.NoError(t, err)
		assert.Equal(t, 0, stats.QuotaRemaining)
	})

	t.Run("query failure", func(t *testing.T) {
		dao, mock := newStatsDao(t)
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

		_, err := dao.GetNetworkStats(context.Background(), testTime)

		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestStatsDao_ListSalonUsage(t *testing.T) {
	dao, mock := newStatsDao(t)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY o.quota_used DESC, o.name LIMIT $1")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "location", "quota_limit", "quota_used", "masters", "total"}).
			AddRow(int64(3), "Nail Studio", "Riga", 100, 97, 4, 12).
			AddRow(int64(5), "Almond Bar", "Tallinn", 50, 40, 2, 12).
			AddRow(int64(4), "Polish", "Vilnius", 0, 0, 0, 12))

	salons, total, err := dao.ListSalonUsage(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, salons, 3)
	assert.Equal(t, "Nail Studio", salons[0].Name)
	assert.Equal(t, "Riga", salons[0].Location)
	assert.Equal(t, 4, salons[0].ActiveMasters)
	assert.Equal(t, 3, salons[0].Remaining)
	assert.Equal(t, models.UsageLevelCritical, salons[0].UsageLevel)
	assert.Equal(t, models.UsageLevelWarning, salons[1].UsageLevel)
	assert.Equal(t, models.UsageLevelNormal, salons[2].UsageLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDao_ListMasterRanking(t *testing.T) {
	t.Run("ranks with share of all masters", func(t *testing.T) {
		dao, mock := newStatsDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY m.completed_task_count DESC, m.id LIMIT $1")).
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "org_id", "salon", "completed", "all", "total"}).
				AddRow(int64(7), "Anna", int64(3), "Nail Studio", 30, 60, 5).
				AddRow(int64(9), "Olga", int64(4), "Almond Bar", 15, 60, 5))

		masters, total, err := dao.ListMasterRanking(context.Background(), 2)

		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, masters, 2)
		assert.Equal(t, 1, masters[0].Rank)
		assert.Equal(t, "Nail Studio", masters[0].SalonName)
		assert.InDelta(t, 50.0, masters[0].SharePercent, 0.001)
		assert.Equal(t, 2, masters[1].Rank)
		assert.InDelta(t, 25.0, masters[1].SharePercent, 0.001)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no finalized tasks yet", func(t *testing.T) {
		dao, mock := newStatsDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM salon.members m")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "org_id", "salon", "completed", "all", "total"}).
				AddRow(int64(7), "Anna", int64(3), "Nail Studio", 0, 0, 1))

		masters, _, err := dao.ListMasterRanking(context.Background(), 15)

		require.NoError(t, err)
		assert.Zero(t, masters[0].SharePercent)
	})

	t.Run("empty network", func(t *testing.T) {
		dao, mock := newStatsDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM salon.members m")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "org_id", "salon", "completed", "all", "total"}))

		masters, total, err := dao.ListMasterRanking(context.Background(), 15)

		require.NoError(t, err)
		assert.Empty(t, masters)
		assert.NotNil(t, masters)
		assert.Zero(t, total)
	})
}

func TestStatsDao_GetPeriodStats(t *testing.T) {
	dao, mock := newStatsDao(t)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE analysis_started_at >= $1)")).
		WithArgs(startOfTestDay, startOfTestDay.AddDate(0, 0, -7), startOfTestDay.AddDate(0, 0, -30)).
		WillReturnRows(sqlmock.NewRows([]string{"today", "week", "month", "new_masters"}).AddRow(2, 21, 90, 3))

	stats, err := dao.GetPeriodStats(context.Background(), testTime)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.AnalysesToday)
	assert.Equal(t, 21, stats.AnalysesWeek)
	assert.Equal(t, 90, stats.AnalysesMonth)
	assert.Equal(t, 3, stats.NewMastersWeek)
	assert.InDelta(t, 3.0, stats.AverageDailyWeek, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
