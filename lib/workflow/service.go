package workflow

import (
	"context"
	"errors"
	"manicure/lib/data"
	"manicure/lib/models"
	"manicure/lib/quota"
	"time"

	"github.com/sirupsen/logrus"
)

// AnalysisRunner runs the analysis of a task in the analyzing status
type AnalysisRunner interface {
	Run(ctx context.Context, taskID int64) (*models.AnalysisOutcome, error)
}

// Service drives a member's tasks through the state machine
type Service struct {
	Tasks        data.TaskRepository
	Members      data.MemberRepository
	Ledger       *quota.Ledger
	Orchestrator AnalysisRunner
	Logger       *logrus.Logger
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// NewTaskResponse pairs a task with the intents its master may send next
func NewTaskResponse(task *models.Task) *models.TaskResponse {
	actions := []string{}
	for _, a := range allowedActions[task.Status] {
		actions = append(actions, string(a))
	}
	return &models.TaskResponse{Task: task, AllowedActions: actions}
}

// StartTask opens a new task for member. Only the quota gate is checked here;
// nothing is reserved until acceptance.
func (s *Service) StartTask(ctx context.Context, member *models.Member) (*models.Task, error) {
	current, err := s.Tasks.GetLatestTaskForMember(ctx, member.MemberID, true)
	if err == nil {
		s.Logger.WithFields(logrus.Fields{
			"operation": "StartTask",
			"member_id": member.MemberID,
			"task_id":   current.TaskID,
			"status":    current.Status,
		}).Warn("Member already has an unfinished task")
		return current, ErrTaskInProgress
	}
	if !errors.Is(err, data.ErrTaskNotFound) {
		return nil, err
	}

	if err := s.Ledger.CanStart(ctx, member.OrgID); err != nil {
		return nil, err
	}

	task, err := s.Tasks.CreateTask(ctx, member.MemberID, member.OrgID)
	if err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"operation": "StartTask",
		"member_id": member.MemberID,
		"org_id":    member.OrgID,
		"task_id":   task.TaskID,
	}).Info("Task started")

	return task, nil
}

// GetTask returns a task owned by memberID
func (s *Service) GetTask(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	task, err := s.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.MemberID != memberID {
		return nil, ErrNotTaskOwner
	}
	return task, nil
}

// CurrentTask returns the member's unfinished task, so an interrupted workflow can resume
func (s *Service) CurrentTask(ctx context.Context, memberID int64) (*models.Task, error) {
	return s.Tasks.GetLatestTaskForMember(ctx, memberID, true)
}

// mutate applies fn to an owned task. A rejected fn leaves the stored task unchanged.
func (s *Service) mutate(ctx context.Context, operation string, memberID, taskID int64, fn func(task *models.Task) error) (*models.Task, error) {
	var from models.TaskStatus
	task, err := s.Tasks.MutateTask(ctx, taskID, func(task *models.Task) error {
		if task.MemberID != memberID {
			return ErrNotTaskOwner
		}
		from = task.Status
		return fn(task)
	})
	if err != nil {
		fields := logrus.Fields{
			"operation": operation,
			"member_id": memberID,
			"task_id":   taskID,
			"error":     err.Error(),
		}
		var validationErr *ValidationError
		var transitionErr *TransitionError
		switch {
		case errors.As(err, &validationErr), errors.As(err, &transitionErr), errors.Is(err, ErrNotTaskOwner):
			s.Logger.WithFields(fields).Info("Intent rejected")
		case IsWorkflowReset(err):
			s.Logger.WithFields(fields).Warn("Task lost, workflow must restart")
		default:
			s.Logger.WithFields(fields).Error("Failed to update task")
		}
		return nil, err
	}

	if from != task.Status {
		s.Logger.WithFields(logrus.Fields{
			"operation": operation,
			"task_id":   taskID,
			"from":      from,
			"to":        task.Status,
		}).Info("Task transitioned")
	}

	return task, nil
}

// AddPhoto appends a photo to the group being collected
func (s *Service) AddPhoto(ctx context.Context, memberID, taskID int64, ref string) (*models.Task, error) {
	return s.mutate(ctx, "AddPhoto", memberID, taskID, func(task *models.Task) error {
		return AddPhoto(task, ref)
	})
}

// RemoveLastPhoto drops the newest photo of the group being collected and
// returns its reference
func (s *Service) RemoveLastPhoto(ctx context.Context, memberID, taskID int64) (*models.Task, string, error) {
	var removed string
	task, err := s.mutate(ctx, "RemoveLastPhoto", memberID, taskID, func(task *models.Task) error {
		ref, err := RemoveLastPhoto(task)
		removed = ref
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return task, removed, nil
}

// Advance closes the current photo group
func (s *Service) Advance(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	return s.mutate(ctx, "Advance", memberID, taskID, Advance)
}

// Back returns from second group collection to the first group
func (s *Service) Back(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	return s.mutate(ctx, "Back", memberID, taskID, Back)
}

// SubmitSurvey stores the survey answer
func (s *Service) SubmitSurvey(ctx context.Context, memberID, taskID int64, text string) (*models.Task, error) {
	return s.mutate(ctx, "SubmitSurvey", memberID, taskID, func(task *models.Task) error {
		return SubmitSurvey(task, text)
	})
}

// EditSurvey reopens the survey before analysis
func (s *Service) EditSurvey(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	return s.mutate(ctx, "EditSurvey", memberID, taskID, EditSurvey)
}

// TriggerAnalysis moves the task to analyzing and runs the orchestrator to completion.
// Analysis failures come back as a failed outcome, not as an error.
func (s *Service) TriggerAnalysis(ctx context.Context, memberID, taskID int64) (*models.AnalysisOutcome, error) {
	if _, err := s.mutate(ctx, "TriggerAnalysis", memberID, taskID, BeginAnalysis); err != nil {
		return nil, err
	}
	return s.Orchestrator.Run(ctx, taskID)
}

// RetryAnalysis makes a failed task ready for another run
func (s *Service) RetryAnalysis(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	return s.mutate(ctx, "RetryAnalysis", memberID, taskID, RetryAnalysis)
}

// ViewResults reads the report of a completed analysis without changing anything
func (s *Service) ViewResults(ctx context.Context, memberID, taskID int64) (*models.TaskResultsResponse, error) {
	task, err := s.GetTask(ctx, memberID, taskID)
	if err != nil {
		return nil, err
	}
	if err := ViewResults(task); err != nil {
		return nil, err
	}

	resp := &models.TaskResultsResponse{
		TaskID:          task.TaskID,
		FirstResult:     task.FirstResult,
		SecondResult:    task.SecondResult,
		AggregateResult: task.AggregateResult,
	}
	if d, ok := task.AnalysisDuration(); ok {
		seconds := int64(d / time.Second)
		resp.AnalysisDurationSeconds = &seconds
	}
	return resp, nil
}

// Accept finalizes the task and debits one analysis from the salon the task was
// created under. The finalize claim, the debit and the member counter are
// written together and the claim succeeds at most once per task, so the quota
// is debited exactly once.
func (s *Service) Accept(ctx context.Context, memberID, taskID int64) (*models.AcceptResponse, error) {
	task, err := s.GetTask(ctx, memberID, taskID)
	if err != nil {
		return nil, err
	}
	if err := CheckAccept(task); err != nil {
		return nil, err
	}

	var finalized *models.Task
	err = s.Ledger.Debit(ctx, task.OrgID, quota.AcceptDebit, func(ctx context.Context, amount int) error {
		var err error
		finalized, err = s.Tasks.FinalizeTask(ctx, taskID, s.now(), amount)
		return err
	})
	if err != nil {
		if errors.Is(err, data.ErrTaskNotClaimable) {
			if current, getErr := s.Tasks.GetTask(ctx, taskID); getErr == nil {
				return nil, &TransitionError{Action: ActionAccept, Status: current.Status}
			}
			return nil, &TransitionError{Action: ActionAccept, Status: task.Status}
		}
		s.Logger.WithFields(logrus.Fields{
			"operation": "Accept",
			"task_id":   taskID,
			"org_id":    task.OrgID,
			"error":     err.Error(),
		}).Error("Failed to finalize task")
		return nil, err
	}

	remaining, err := s.Ledger.Remaining(ctx, finalized.OrgID)
	if err != nil {
		// The salon may have been deactivated meanwhile
		s.Logger.WithError(err).WithField("org_id", finalized.OrgID).Warn("Could not read remaining quota")
		remaining = 0
	}

	s.Logger.WithFields(logrus.Fields{
		"operation":       "Accept",
		"task_id":         taskID,
		"member_id":       finalized.MemberID,
		"org_id":          finalized.OrgID,
		"quota_remaining": remaining,
	}).Info("Task finalized")

	return &models.AcceptResponse{Task: finalized, QuotaRemaining: remaining}, nil
}

// Dispute starts the dispute of a completed report
func (s *Service) Dispute(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	return s.mutate(ctx, "Dispute", memberID, taskID, Dispute)
}

// SubmitDispute records the reason and closes the task as disputed
func (s *Service) SubmitDispute(ctx context.Context, memberID, taskID int64, reason string) (*models.Task, error) {
	now := s.now()
	return s.mutate(ctx, "SubmitDispute", memberID, taskID, func(task *models.Task) error {
		return SubmitDisputeReason(task, reason, now)
	})
}

// CancelDispute returns to the completed report
func (s *Service) CancelDispute(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	return s.mutate(ctx, "CancelDispute", memberID, taskID, CancelDispute)
}

// Cancel discards an unfinished task. An analysis still running for it will
// find the task gone and drop its results. The deleted task is returned so
// the caller can clean up its photos.
func (s *Service) Cancel(ctx context.Context, memberID, taskID int64) (*models.Task, error) {
	task, err := s.GetTask(ctx, memberID, taskID)
	if err != nil {
		return nil, err
	}
	if err := CheckCancel(task); err != nil {
		return nil, err
	}
	if err := s.Tasks.DeleteTask(ctx, taskID); err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"operation": "Cancel",
		"task_id":   taskID,
		"member_id": memberID,
		"from":      task.Status,
	}).Info("Task discarded")

	return task, nil
}

// Stats summarizes the member's tasks including the most recent one
func (s *Service) Stats(ctx context.Context, memberID int64) (*models.MemberStats, error) {
	stats, err := s.Members.GetMemberStats(ctx, memberID)
	if err != nil {
		return nil, err
	}

	last, err := s.Tasks.GetLatestTaskForMember(ctx, memberID, false)
	switch {
	case err == nil:
		stats.LastTask = last
	case !errors.Is(err, data.ErrTaskNotFound):
		return nil, err
	}

	return stats, nil
}

// Quota returns the quota of the member's current salon
func (s *Service) Quota(ctx context.Context, member *models.Member) (*models.QuotaResponse, error) {
	return s.Ledger.Quota(ctx, member.OrgID)
}
