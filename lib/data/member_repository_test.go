package data

import (
	"context"
	"manicure/lib/models"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var memberColumnNames = []string{
	"id", "organization_id", "display_name", "external_identity", "username",
	"is_active", "completed_task_count", "created_at", "updated_at",
}

func memberRow(id, orgID int64) *sqlmock.Rows {
	return sqlmock.NewRows(memberColumnNames).
		AddRow(id, orgID, "Anna", "tg:1001", "anna_nails", true, 12, testTime, testTime)
}

func newMemberDao(t *testing.T) (*MemberDao, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &MemberDao{DB: db, Logger: logrus.New()}, mock
}

func TestMemberDao_CreateMember(t *testing.T) {
	insert := regexp.QuoteMeta("INSERT INTO salon.members (organization_id, display_name, external_identity, username, is_active, completed_task_count)")
	username := "anna_nails"
	input := &models.Member{OrgID: 3, DisplayName: "Anna", ExternalIdentity: "tg:1001", Username: &username}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "registered",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(insert).
					WithArgs(int64(3), "Anna", "tg:1001", "anna_nails").
					WillReturnRows(memberRow(9, 3))
			},
		},
		{
			name: "inactive salon",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows(memberColumnNames))
			},
			wantErr: ErrOrganizationNotFound,
		},
		{
			name: "duplicate identity",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(insert).WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr: ErrDuplicateIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dao, mock := newMemberDao(t)
			tt.setup(mock)

			member, err := dao.CreateMember(context.Background(), input)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(9), member.MemberID)
				require.NotNil(t, member.Username)
				assert.Equal(t, "anna_nails", *member.Username)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMemberDao_GetMemberByExternalIdentity(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		dao, mock := newMemberDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE m.external_identity = $1 AND m.is_active = true AND o.is_active = true")).
			WithArgs("tg:1001").
			WillReturnRows(memberRow(9, 3))

		member, err := dao.GetMemberByExternalIdentity(context.Background(), "tg:1001")

		require.NoError(t, err)
		assert.Equal(t, int64(3), member.OrgID)
		assert.Equal(t, 12, member.CompletedTaskCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deactivated", func(t *testing.T) {
		dao, mock := newMemberDao(t)
		mock.ExpectQuery(regexp.QuoteMeta("WHERE m.external_identity = $1")).
			WithArgs("tg:1001").
			WillReturnRows(sqlmock.NewRows(memberColumnNames))

		_, err := dao.GetMemberByExternalIdentity(context.Background(), "tg:1001")

		assert.ErrorIs(t, err, ErrMemberNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMemberDao_ReassignMember(t *testing.T) {
	dao, mock := newMemberDao(t)
	mock.ExpectQuery(regexp.QuoteMeta("SET organization_id = o.id")).
		WithArgs(int64(9), int64(4)).
		WillReturnRows(memberRow(9, 4))

	member, err := dao.ReassignMember(context.Background(), 9, 4)

	require.NoError(t, err)
	assert.Equal(t, int64(4), member.OrgID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberDao_GetMemberStats(t *testing.T) {
	dao, mock := newMemberDao(t)
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = 'finalized')")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "finalized", "in_progress", "disputed"}).AddRow(10, 7, 1, 2))

	stats, err := dao.GetMemberStats(context.Background(), 9)

	require.NoError(t, err)
	assert.Equal(t, &models.MemberStats{MemberID: 9, TotalTasks: 10, FinalizedTasks: 7, InProgress: 1, Disputed: 2}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogDao(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	dao := &StepLogDao{DB: db, Logger: logrus.New()}

	t.Run("records a failed step", func(t *testing.T) {
		message := "analysis service timed out"
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO salon.analysis_step_logs (task_id, step, status, error_message, duration_ms)")).
			WithArgs(int64(11), "first_group", "error", message, int64(60000)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), testTime))

		entry, err := dao.CreateStepLog(context.Background(), &models.AnalysisStepLog{
			TaskID:       11,
			Step:         models.AnalysisStepFirstGroup,
			Status:       models.StepStatusError,
			ErrorMessage: &message,
			DurationMS:   60000,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.ID)
		assert.Equal(t, testTime, entry.CreatedAt)
	})

	t.Run("deleted task", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO salon.analysis_step_logs")).
			WillReturnError(&pq.Error{Code: "23503"})

		_, err := dao.CreateStepLog(context.Background(), &models.AnalysisStepLog{TaskID: 11, Step: models.AnalysisStepSynthesis, Status: models.StepStatusCompleted})

		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("lists in order", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM salon.analysis_step_logs WHERE task_id = $1 ORDER BY created_at, id")).
			WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "step", "status", "error_message", "duration_ms", "created_at"}).
				AddRow(int64(1), int64(11), "first_group", "completed", nil, int64(1200), testTime).
				AddRow(int64(2), int64(11), "second_group", "error", "bad payload", int64(800), testTime))

		logs, err := dao.ListStepLogs(context.Background(), 11)

		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Nil(t, logs[0].ErrorMessage)
		assert.Equal(t, models.AnalysisStepSecondGroup, logs[1].Step)
		require.NotNil(t, logs[1].ErrorMessage)
		assert.Equal(t, "bad payload", *logs[1].ErrorMessage)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
