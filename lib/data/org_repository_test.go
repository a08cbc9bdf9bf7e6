package data

import (
	"context"
	"manicure/lib/models"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orgColumnNames = []string{"id", "name", "location", "quota_limit", "quota_used", "is_active", "created_at", "updated_at"}

func orgRow(id int64, limit, used int) *sqlmock.Rows {
	return sqlmock.NewRows(orgColumnNames).
		AddRow(id, "Nail Studio", "Kazan", limit, used, true, testTime, testTime)
}

func newOrgDao(t *testing.T) (*OrgDao, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &OrgDao{DB: db, Logger: logrus.New()}, mock
}

func TestOrgDao_CreateOrganization(t *testing.T) {
	dao, mock := newOrgDao(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO salon.organizations (name, location, quota_limit, quota_used, is_active) VALUES ($1, $2, $3, 0, true)")).
		WithArgs("Nail Studio", "Kazan", 100).
		WillReturnRows(orgRow(3, 100, 0))

	org, err := dao.CreateOrganization(context.Background(), &models.Organization{Name: "Nail Studio", Location: "Kazan", QuotaLimit: 100})

	require.NoError(t, err)
	assert.Equal(t, int64(3), org.OrgID)
	assert.Equal(t, 100, org.QuotaRemaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrgDao_GetOrganization(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND is_active = true")).
			WithArgs(int64(3)).
			WillReturnRows(orgRow(3, 5, 7))

		org, err := dao.GetOrganization(context.Background(), 3)

		require.NoError(t, err)
		assert.Equal(t, 0, org.QuotaRemaining())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing or inactive", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND is_active = true")).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(orgColumnNames))

		_, err := dao.GetOrganization(context.Background(), 3)

		assert.ErrorIs(t, err, ErrOrganizationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrgDao_QuotaAdministration(t *testing.T) {
	t.Run("limit below usage is accepted", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("SET quota_limit = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND is_active = true")).
			WithArgs(2, int64(3)).
			WillReturnRows(orgRow(3, 2, 4))

		org, err := dao.SetQuotaLimit(context.Background(), 3, 2)

		require.NoError(t, err)
		assert.Equal(t, 4, org.QuotaUsed)
		assert.Equal(t, 0, org.QuotaRemaining())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refill adds to the limit", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("SET quota_limit = quota_limit + $1")).
			WithArgs(50, int64(3)).
			WillReturnRows(orgRow(3, 55, 5))

		org, err := dao.AddQuota(context.Background(), 3, 50)

		require.NoError(t, err)
		assert.Equal(t, 50, org.QuotaRemaining())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive organization", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("SET quota_limit = quota_limit + $1")).
			WithArgs(50, int64(3)).
			WillReturnRows(sqlmock.NewRows(orgColumnNames))

		_, err := dao.AddQuota(context.Background(), 3, 50)

		assert.ErrorIs(t, err, ErrOrganizationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrgDao_DeactivateOrganization(t *testing.T) {
	t.Run("cascades to members", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE salon.organizations SET is_active = false")).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE salon.members SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE organization_id = $1 AND is_active = true")).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectCommit()

		members, err := dao.DeactivateOrganization(context.Background(), 3)

		require.NoError(t, err)
		assert.Equal(t, 4, members)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already inactive", func(t *testing.T) {
		dao, mock := newOrgDao(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE salon.organizations SET is_active = false")).
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := dao.DeactivateOrganization(context.Background(), 3)

		assert.ErrorIs(t, err, ErrOrganizationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
