package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"manicure/lib/models"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// TaskRepository defines durable storage for task aggregates
type TaskRepository interface {
	CreateTask(ctx context.Context, memberID, orgID int64) (*models.Task, error)
	GetTask(ctx context.Context, taskID int64) (*models.Task, error)
	// MutateTask loads the task, applies fn and persists the whole aggregate.
	// If fn returns an error nothing is written and the error is returned as is.
	MutateTask(ctx context.Context, taskID int64, fn func(task *models.Task) error) (*models.Task, error)
	DeleteTask(ctx context.Context, taskID int64) error
	// FinalizeTask moves a task from analysis_complete to finalized, debits
	// quotaDebit from the salon the task was created under and counts the task
	// for its member, all or nothing. Only one caller can win this transition
	// for a given task.
	FinalizeTask(ctx context.Context, taskID int64, finalizedAt time.Time, quotaDebit int) (*models.Task, error)
	GetLatestTaskForMember(ctx context.Context, memberID int64, activeOnly bool) (*models.Task, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
}

// TaskDao implements the TaskRepository interface for PostgreSQL
type TaskDao struct {
	DB     *sql.DB
	Logger *logrus.Logger
}

const taskColumns = `id, member_id, organization_id, first_group_photos, second_group_photos,
	survey_text, first_result, second_result, aggregate_result, status, dispute_reason,
	created_at, analysis_started_at, analysis_completed_at, finalized_at, disputed_at, updated_at`

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// terminalStatuses lists statuses that end the master's workflow
const terminalStatuses = `('finalized', 'disputed', 'discarded')`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var task models.Task
	var surveyText, disputeReason sql.NullString
	var firstRaw, secondRaw, aggregateRaw []byte
	var startedAt, completedAt, finalizedAt, disputedAt sql.NullTime
	var status string

	err := row.Scan(
		&task.TaskID,
		&task.MemberID,
		&task.OrgID,
		pq.Array(&task.FirstGroupPhotos),
		pq.Array(&task.SecondGroupPhotos),
		&surveyText,
		&firstRaw,
		&secondRaw,
		&aggregateRaw,
		&status,
		&disputeReason,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
		&finalizedAt,
		&disputedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	task.SurveyText = nullStringPtr(surveyText)
	task.DisputeReason = nullStringPtr(disputeReason)
	task.AnalysisStartedAt = nullTimePtr(startedAt)
	task.AnalysisCompletedAt = nullTimePtr(completedAt)
	task.FinalizedAt = nullTimePtr(finalizedAt)
	task.DisputedAt = nullTimePtr(disputedAt)

	if task.FirstResult, err = decodeResult(firstRaw); err != nil {
		return nil, err
	}
	if task.SecondResult, err = decodeResult(secondRaw); err != nil {
		return nil, err
	}
	if task.AggregateResult, err = decodeResult(aggregateRaw); err != nil {
		return nil, err
	}
	if task.FirstGroupPhotos == nil {
		task.FirstGroupPhotos = []string{}
	}
	if task.SecondGroupPhotos == nil {
		task.SecondGroupPhotos = []string{}
	}

	return &task, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func decodeResult(raw []byte) (*models.AnalysisResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var result models.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis result: %w", err)
	}
	return &result, nil
}

func encodeResult(result *models.AnalysisResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis result: %w", err)
	}
	return raw, nil
}

func nonNilPhotos(photos []string) []string {
	if photos == nil {
		return []string{}
	}
	return photos
}

// CreateTask inserts a task in the started state with empty photo groups
func (dao *TaskDao) CreateTask(ctx context.Context, memberID, orgID int64) (*models.Task, error) {
	query := `
		INSERT INTO salon.tasks (member_id, organization_id, status)
		VALUES ($1, $2, $3)
		RETURNING ` + taskColumns

	task, err := scanTask(dao.DB.QueryRowContext(ctx, query, memberID, orgID, string(models.TaskStatusStarted)))
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "CreateTask",
			"member_id": memberID,
			"org_id":    orgID,
			"error":     err.Error(),
		}).Error("Failed to create task")
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation": "CreateTask",
		"task_id":   task.TaskID,
		"member_id": memberID,
		"org_id":    orgID,
	}).Info("Task created successfully")

	return task, nil
}

// GetTask retrieves a task by ID
func (dao *TaskDao) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM salon.tasks WHERE id = $1`

	task, err := scanTask(dao.DB.QueryRowContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": "GetTask",
				"task_id":   taskID,
			}).Warn("Task not found")
			return nil, ErrTaskNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "GetTask",
			"task_id":   taskID,
			"error":     err.Error(),
		}).Error("Failed to get task")
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// MutateTask applies fn under a row lock and overwrites the stored aggregate
func (dao *TaskDao) MutateTask(ctx context.Context, taskID int64, fn func(task *models.Task) error) (*models.Task, error) {
	tx, err := dao.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM salon.tasks WHERE id = $1 FOR UPDATE`, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": "MutateTask",
				"task_id":   taskID,
			}).Warn("Task not found")
			return nil, ErrTaskNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "MutateTask",
			"task_id":   taskID,
			"error":     err.Error(),
		}).Error("Failed to load task")
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	if err := fn(task); err != nil {
		return nil, err
	}

	first, err := encodeResult(task.FirstResult)
	if err != nil {
		return nil, err
	}
	second, err := encodeResult(task.SecondResult)
	if err != nil {
		return nil, err
	}
	aggregate, err := encodeResult(task.AggregateResult)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE salon.tasks
		SET first_group_photos = $2, second_group_photos = $3, survey_text = $4,
			first_result = $5, second_result = $6, aggregate_result = $7,
			status = $8, dispute_reason = $9, analysis_started_at = $10,
			analysis_completed_at = $11, finalized_at = $12, disputed_at = $13,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at
	`

	err = tx.QueryRowContext(ctx, query,
		task.TaskID,
		pq.Array(nonNilPhotos(task.FirstGroupPhotos)),
		pq.Array(nonNilPhotos(task.SecondGroupPhotos)),
		task.SurveyText,
		first,
		second,
		aggregate,
		string(task.Status),
		task.DisputeReason,
		task.AnalysisStartedAt,
		task.AnalysisCompletedAt,
		task.FinalizedAt,
		task.DisputedAt,
	).Scan(&task.UpdatedAt)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "MutateTask",
			"task_id":   taskID,
			"error":     err.Error(),
		}).Error("Failed to persist task")
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation": "MutateTask",
		"task_id":   taskID,
		"status":    task.Status,
	}).Debug("Task persisted")

	return task, nil
}

// DeleteTask removes a discarded task; its step logs cascade
func (dao *TaskDao) DeleteTask(ctx context.Context, taskID int64) error {
	result, err := dao.DB.ExecContext(ctx, `DELETE FROM salon.tasks WHERE id = $1`, taskID)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "DeleteTask",
			"task_id":   taskID,
			"error":     err.Error(),
		}).Error("Failed to delete task")
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		dao.Logger.WithField("task_id", taskID).Warn("Task not found for delete")
		return ErrTaskNotFound
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation": "DeleteTask",
		"task_id":   taskID,
	}).Info("Task deleted")

	return nil
}

// FinalizeTask claims the accept transition with a conditional UPDATE and
// applies the quota debit and the member counter in the same transaction
func (dao *TaskDao) FinalizeTask(ctx context.Context, taskID int64, finalizedAt time.Time, quotaDebit int) (*models.Task, error) {
	tx, err := dao.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE salon.tasks
		SET status = $2, finalized_at = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $4
		RETURNING ` + taskColumns

	task, err := scanTask(tx.QueryRowContext(ctx, query,
		taskID,
		string(models.TaskStatusFinalized),
		finalizedAt,
		string(models.TaskStatusAnalysisComplete),
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": "FinalizeTask",
				"task_id":   taskID,
				"error":     err.Error(),
			}).Error("Failed to finalize task")
			return nil, fmt.Errorf("failed to finalize task: %w", err)
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM salon.tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check task existence: %w", err)
		}
		if !exists {
			return nil, ErrTaskNotFound
		}

		dao.Logger.WithField("task_id", taskID).Warn("Task is not awaiting acceptance")
		return nil, ErrTaskNotClaimable
	}

	if err := debitQuota(ctx, tx, dao.Logger, task.OrgID, quotaDebit); err != nil {
		return nil, err
	}
	if err := countCompletedTask(ctx, tx, dao.Logger, task.MemberID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "FinalizeTask",
			"task_id":   taskID,
			"error":     err.Error(),
		}).Error("Failed to commit task finalization")
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation":   "FinalizeTask",
		"task_id":     taskID,
		"org_id":      task.OrgID,
		"member_id":   task.MemberID,
		"quota_debit": quotaDebit,
	}).Info("Task finalized")

	return task, nil
}

// GetLatestTaskForMember returns the member's newest task, optionally only among unfinished ones
func (dao *TaskDao) GetLatestTaskForMember(ctx context.Context, memberID int64, activeOnly bool) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM salon.tasks WHERE member_id = $1`
	if activeOnly {
		query += ` AND status NOT IN ` + terminalStatuses
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	task, err := scanTask(dao.DB.QueryRowContext(ctx, query, memberID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "GetLatestTaskForMember",
			"member_id": memberID,
			"error":     err.Error(),
		}).Error("Failed to get latest task")
		return nil, fmt.Errorf("failed to get latest task: %w", err)
	}

	return task, nil
}

// ListTasksByStatus lists tasks in a status, oldest first
func (dao *TaskDao) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM salon.tasks WHERE status = $1 ORDER BY created_at, id`

	rows, err := dao.DB.QueryContext(ctx, query, string(status))
	if err != nil {
		dao.Logger.WithError(err).WithField("status", status).Error("Failed to list tasks")
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			dao.Logger.WithError(err).WithField("status", status).Error("Failed to scan task row")
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err = rows.Err(); err != nil {
		dao.Logger.WithError(err).WithField("status", status).Error("Row iteration error")
		return nil, err
	}

	dao.Logger.WithFields(logrus.Fields{
		"status":      status,
		"tasks_count": len(tasks),
	}).Debug("Retrieved tasks by status")

	return tasks, nil
}
