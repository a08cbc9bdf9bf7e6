// Package analysis runs the external hand analysis for a task: one call per
// photo group followed by a synthesis of both results.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"manicure/lib/constants"
	"manicure/lib/data"
	"manicure/lib/models"
	"manicure/lib/workflow"
	"time"

	"github.com/sirupsen/logrus"
)

// Analyzer is the opaque analysis capability. Both calls return the raw result
// payload, which is validated by the orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, kind models.AnalysisKind, photoRefs []string, contextText string) (json.RawMessage, error)
	Synthesize(ctx context.Context, first, second *models.AnalysisResult, contextText string) (json.RawMessage, error)
}

// Orchestrator sequences the three sub-calls of an analysis run. When the
// caller's context has a deadline, sub-calls stop Reserve before it so the
// failure can still be written.
type Orchestrator struct {
	Tasks       data.TaskRepository
	StepLogs    data.StepLogRepository
	Analyzer    Analyzer
	StepTimeout time.Duration
	Reserve     time.Duration
	Logger      *logrus.Logger
	Now         func() time.Time
}

// NewOrchestrator creates an orchestrator with the default step timeout
func NewOrchestrator(tasks data.TaskRepository, stepLogs data.StepLogRepository, analyzer Analyzer, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Tasks:       tasks,
		StepLogs:    stepLogs,
		Analyzer:    analyzer,
		StepTimeout: constants.DEFAULT_ANALYSIS_STEP_TIMEOUT * time.Second,
		Reserve:     constants.ANALYSIS_FAILURE_RESERVE * time.Second,
		Logger:      logger,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// errStepTimeout marks a sub-call that exceeded the step timeout
var errStepTimeout = errors.New("analysis step timed out")

// step is one sub-call: it produces a result from the task and stores it on the task
type step struct {
	name  models.AnalysisStep
	kind  models.AnalysisKind
	call  func(ctx context.Context, task *models.Task) (json.RawMessage, error)
	store func(task *models.Task, result *models.AnalysisResult)
}

// Run analyzes a task in the analyzing status. Sub-call failures, timeouts and
// cancellation of ctx end the run with a failed outcome and the task in
// analysis_failed; results stored by earlier steps are kept. Task writes do not
// depend on ctx. An error is returned only when the task cannot be written at
// all, and data.ErrTaskNotFound when the task was discarded, in which case
// nothing is applied.
func (o *Orchestrator) Run(ctx context.Context, taskID int64) (*models.AnalysisOutcome, error) {
	logger := o.Logger.WithFields(logrus.Fields{
		"operation": "RunAnalysis",
		"task_id":   taskID,
	})

	writeCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-o.Reserve))
		defer cancel()
	}

	task, err := o.Tasks.MutateTask(writeCtx, taskID, func(task *models.Task) error {
		return workflow.StartAnalysisRun(task, o.Now())
	})
	if err != nil {
		if stopsRun(err) {
			return nil, o.abandon(logger, err)
		}
		return o.fail(writeCtx, logger, taskID, models.AnalysisStepFirstGroup, err)
	}
	if task.SurveyText == nil {
		return o.fail(writeCtx, logger, taskID, models.AnalysisStepFirstGroup, errors.New("survey text is missing"))
	}
	survey := *task.SurveyText

	logger.WithField("photos", task.TotalPhotos()).Info("Analysis started")

	steps := []step{
		{
			name: models.AnalysisStepFirstGroup,
			kind: models.AnalysisKindFirstGroup,
			call: func(ctx context.Context, task *models.Task) (json.RawMessage, error) {
				return o.Analyzer.Analyze(ctx, models.AnalysisKindFirstGroup, task.FirstGroupPhotos, survey)
			},
			store: func(task *models.Task, result *models.AnalysisResult) { task.FirstResult = result },
		},
		{
			name: models.AnalysisStepSecondGroup,
			kind: models.AnalysisKindSecondGroup,
			call: func(ctx context.Context, task *models.Task) (json.RawMessage, error) {
				return o.Analyzer.Analyze(ctx, models.AnalysisKindSecondGroup, task.SecondGroupPhotos, survey)
			},
			store: func(task *models.Task, result *models.AnalysisResult) { task.SecondResult = result },
		},
		{
			name: models.AnalysisStepSynthesis,
			kind: models.AnalysisKindAggregate,
			call: func(ctx context.Context, task *models.Task) (json.RawMessage, error) {
				return o.Analyzer.Synthesize(ctx, task.FirstResult, task.SecondResult, survey)
			},
			store: func(task *models.Task, result *models.AnalysisResult) { task.AggregateResult = result },
		},
	}

	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return o.fail(writeCtx, logger, taskID, s.name, fmt.Errorf("analysis stopped before %s: %w", s.name, err))
		}

		result, err := o.runStep(ctx, task, s)
		if err != nil {
			return o.fail(writeCtx, logger, taskID, s.name, err)
		}

		last := i == len(steps)-1
		stored, err := o.Tasks.MutateTask(writeCtx, taskID, func(task *models.Task) error {
			if task.Status != models.TaskStatusAnalyzing {
				return &workflow.TransitionError{Action: workflow.ActionTriggerAnalysis, Status: task.Status}
			}
			s.store(task, result)
			if last {
				return workflow.CompleteAnalysis(task, o.Now())
			}
			return nil
		})
		if err != nil {
			if stopsRun(err) {
				return nil, o.abandon(logger.WithField("step", s.name), err)
			}
			return o.fail(writeCtx, logger, taskID, s.name, fmt.Errorf("failed to store %s result: %w", s.name, err))
		}
		task = stored
	}

	fields := logrus.Fields{}
	if d, ok := task.AnalysisDuration(); ok {
		fields["duration_ms"] = d.Milliseconds()
	}
	logger.WithFields(fields).Info("Analysis completed")

	return &models.AnalysisOutcome{Status: models.AnalysisOutcomeSucceeded, Task: task}, nil
}

// runStep performs one sub-call under the step timeout, validates its payload
// and records the attempt in the step log.
func (o *Orchestrator) runStep(ctx context.Context, task *models.Task, s step) (*models.AnalysisResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.StepTimeout)
	defer cancel()

	started := time.Now()
	raw, err := s.call(stepCtx, task)
	if err == nil {
		var result *models.AnalysisResult
		if result, err = ParseResult(raw, s.kind); err == nil {
			o.recordStep(ctx, task.TaskID, s.name, time.Since(started), nil)
			return result, nil
		}
	} else if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", errStepTimeout, o.StepTimeout, err)
	}

	o.recordStep(ctx, task.TaskID, s.name, time.Since(started), err)
	return nil, err
}

func (o *Orchestrator) recordStep(ctx context.Context, taskID int64, name models.AnalysisStep, elapsed time.Duration, stepErr error) {
	entry := &models.AnalysisStepLog{
		TaskID:     taskID,
		Step:       name,
		Status:     models.StepStatusCompleted,
		DurationMS: elapsed.Milliseconds(),
	}
	if stepErr != nil {
		message := stepErr.Error()
		entry.Status = models.StepStatusError
		entry.ErrorMessage = &message
	}

	if _, err := o.StepLogs.CreateStepLog(context.WithoutCancel(ctx), entry); err != nil {
		o.Logger.WithFields(logrus.Fields{
			"operation": "RecordAnalysisStep",
			"task_id":   taskID,
			"step":      name,
			"error":     err.Error(),
		}).Warn("Failed to record analysis step")
	}
}

// fail moves the task to analysis_failed using writeCtx, which must not be
// cancelled with the request.
func (o *Orchestrator) fail(writeCtx context.Context, logger *logrus.Entry, taskID int64, failed models.AnalysisStep, stepErr error) (*models.AnalysisOutcome, error) {
	logger.WithFields(logrus.Fields{
		"step":  failed,
		"error": stepErr.Error(),
	}).Warn("Analysis step failed")

	task, err := o.Tasks.MutateTask(writeCtx, taskID, workflow.FailAnalysis)
	if err != nil {
		return nil, o.abandon(logger.WithField("step", failed), err)
	}

	return &models.AnalysisOutcome{
		Status:     models.AnalysisOutcomeFailed,
		FailedStep: failed,
		Error:      stepErr.Error(),
		Task:       task,
	}, nil
}

// stopsRun reports whether a task write failed because the task was discarded
// or left the analyzing status, so there is nothing left to fail
func stopsRun(err error) bool {
	var transitionErr *workflow.TransitionError
	return errors.Is(err, data.ErrTaskNotFound) || errors.As(err, &transitionErr)
}

// abandon logs why a run stopped without a verdict. A discarded task is
// reported as data.ErrTaskNotFound.
func (o *Orchestrator) abandon(logger *logrus.Entry, err error) error {
	var transitionErr *workflow.TransitionError
	switch {
	case errors.Is(err, data.ErrTaskNotFound):
		logger.Info("Task discarded during analysis, dropping results")
	case errors.As(err, &transitionErr):
		logger.WithField("status", transitionErr.Status).Warn("Task left analyzing, dropping results")
	default:
		logger.WithError(err).Error("Failed to update task during analysis")
	}
	return err
}
