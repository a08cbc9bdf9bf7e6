package data

import (
	"context"
	"database/sql"
	"fmt"
	"manicure/lib/models"

	"github.com/sirupsen/logrus"
)

// StepLogRepository records orchestrator sub-call outcomes
type StepLogRepository interface {
	CreateStepLog(ctx context.Context, entry *models.AnalysisStepLog) (*models.AnalysisStepLog, error)
	ListStepLogs(ctx context.Context, taskID int64) ([]models.AnalysisStepLog, error)
}

// StepLogDao implements the StepLogRepository interface for PostgreSQL
type StepLogDao struct {
	DB     *sql.DB
	Logger *logrus.Logger
}

// CreateStepLog appends a step record. A missing task surfaces as ErrTaskNotFound
// through the foreign key.
func (dao *StepLogDao) CreateStepLog(ctx context.Context, entry *models.AnalysisStepLog) (*models.AnalysisStepLog, error) {
	query := `
		INSERT INTO salon.analysis_step_logs (task_id, step, status, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	created := *entry
	err := dao.DB.QueryRowContext(ctx, query,
		entry.TaskID,
		string(entry.Step),
		entry.Status,
		entry.ErrorMessage,
		entry.DurationMS,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrTaskNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "CreateStepLog",
			"task_id":   entry.TaskID,
			"step":      entry.Step,
			"error":     err.Error(),
		}).Error("Failed to record analysis step")
		return nil, fmt.Errorf("failed to record analysis step: %w", err)
	}

	return &created, nil
}

// ListStepLogs returns a task's step records in execution order
func (dao *StepLogDao) ListStepLogs(ctx context.Context, taskID int64) ([]models.AnalysisStepLog, error) {
	query := `
		SELECT id, task_id, step, status, error_message, duration_ms, created_at
		FROM salon.analysis_step_logs
		WHERE task_id = $1
		ORDER BY created_at, id
	`

	rows, err := dao.DB.QueryContext(ctx, query, taskID)
	if err != nil {
		dao.Logger.WithError(err).WithField("task_id", taskID).Error("Failed to list analysis steps")
		return nil, fmt.Errorf("failed to list analysis steps: %w", err)
	}
	defer rows.Close()

	logs := []models.AnalysisStepLog{}
	for rows.Next() {
		var entry models.AnalysisStepLog
		var step string
		var errorMessage sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&step,
			&entry.Status,
			&errorMessage,
			&entry.DurationMS,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis step: %w", err)
		}
		entry.Step = models.AnalysisStep(step)
		entry.ErrorMessage = nullStringPtr(errorMessage)
		logs = append(logs, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}
