// Package workflow implements the task state machine and the service that
// drives it against the repositories.
//
// The functions in this file are pure: they check that an action is legal for
// the task's status, validate the input and mutate the task in place. They
// return *TransitionError or *ValidationError without touching the task when
// the action is rejected.
package workflow

import (
	"manicure/lib/constants"
	"manicure/lib/models"
	"manicure/lib/util"
	"strings"
	"time"
)

// Action is a master intent
type Action string

// Master intents
const (
	ActionAddPhoto        Action = "add_photo"
	ActionRemovePhoto     Action = "remove_photo"
	ActionAdvance         Action = "advance"
	ActionBack            Action = "back"
	ActionSubmitSurvey    Action = "submit_survey"
	ActionEditSurvey      Action = "edit_survey"
	ActionTriggerAnalysis Action = "trigger_analysis"
	ActionRetry           Action = "retry"
	ActionViewResults     Action = "view_results"
	ActionAccept          Action = "accept"
	ActionDispute         Action = "dispute"
	ActionSubmitDispute   Action = "submit_dispute"
	ActionCancelDispute   Action = "cancel_dispute"
	ActionCancel          Action = "cancel"
)

// allowedActions lists the intents available per status, in menu order.
// Terminal statuses have none.
var allowedActions = map[models.TaskStatus][]Action{
	models.TaskStatusStarted:          {ActionAddPhoto, ActionRemovePhoto, ActionAdvance, ActionCancel},
	models.TaskStatusCollectingSecond: {ActionAddPhoto, ActionRemovePhoto, ActionAdvance, ActionBack, ActionCancel},
	models.TaskStatusAwaitingSurvey:   {ActionSubmitSurvey, ActionCancel},
	models.TaskStatusReadyForAnalysis: {ActionEditSurvey, ActionTriggerAnalysis, ActionCancel},
	models.TaskStatusAnalyzing:        {ActionCancel},
	models.TaskStatusAnalysisFailed:   {ActionRetry, ActionCancel},
	models.TaskStatusAnalysisComplete: {ActionViewResults, ActionAccept, ActionDispute, ActionCancel},
	models.TaskStatusDisputing:        {ActionSubmitDispute, ActionCancelDispute, ActionCancel},
}

// AllowedActions returns the intents available in status
func AllowedActions(status models.TaskStatus) []Action {
	return append([]Action(nil), allowedActions[status]...)
}

// IsAllowed reports whether action is available in status
func IsAllowed(status models.TaskStatus, action Action) bool {
	for _, a := range allowedActions[status] {
		if a == action {
			return true
		}
	}
	return false
}

func checkAllowed(task *models.Task, action Action) error {
	if !IsAllowed(task.Status, action) {
		return &TransitionError{Action: action, Status: task.Status}
	}
	return nil
}

// ActiveGroup returns the photo group being collected in status
func ActiveGroup(status models.TaskStatus) (models.PhotoGroup, bool) {
	switch status {
	case models.TaskStatusStarted:
		return models.PhotoGroupFirst, true
	case models.TaskStatusCollectingSecond:
		return models.PhotoGroupSecond, true
	}
	return "", false
}

// AddPhoto appends ref to the group being collected
func AddPhoto(task *models.Task, ref string) error {
	if err := checkAllowed(task, ActionAddPhoto); err != nil {
		return err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return &ValidationError{Field: "photo_ref", Message: "photo reference is required"}
	}
	group, _ := ActiveGroup(task.Status)
	task.AppendPhoto(group, ref)
	return nil
}

// RemoveLastPhoto pops the newest photo of the group being collected. An
// emptied group does not move the task backward.
func RemoveLastPhoto(task *models.Task) (string, error) {
	if err := checkAllowed(task, ActionRemovePhoto); err != nil {
		return "", err
	}
	group, _ := ActiveGroup(task.Status)
	ref, ok := task.PopPhoto(group)
	if !ok {
		return "", &ValidationError{Field: "photos", Message: "no " + string(group) + " group photos to remove"}
	}
	return ref, nil
}

// Advance closes the current photo group. The group must hold at least one photo.
func Advance(task *models.Task) error {
	if err := checkAllowed(task, ActionAdvance); err != nil {
		return err
	}
	group, _ := ActiveGroup(task.Status)
	if len(task.Photos(group)) == 0 {
		return &ValidationError{Field: "photos", Message: "add at least one " + string(group) + " group photo before continuing"}
	}
	if group == models.PhotoGroupFirst {
		task.Status = models.TaskStatusCollectingSecond
	} else {
		task.Status = models.TaskStatusAwaitingSurvey
	}
	return nil
}

// Back re-enters first group editing. Second group photos are kept.
func Back(task *models.Task) error {
	if err := checkAllowed(task, ActionBack); err != nil {
		return err
	}
	task.Status = models.TaskStatusStarted
	return nil
}

// ValidateSurvey checks the trimmed minimum length
func ValidateSurvey(text string) (string, error) {
	if util.TrimmedLength(text) < constants.SURVEY_MIN_LENGTH {
		return "", &ValidationError{Field: "text", Message: "survey answer must be at least 10 characters"}
	}
	return strings.TrimSpace(text), nil
}

// SubmitSurvey stores the trimmed survey text and makes the task ready for analysis
func SubmitSurvey(task *models.Task, text string) error {
	if err := checkAllowed(task, ActionSubmitSurvey); err != nil {
		return err
	}
	trimmed, err := ValidateSurvey(text)
	if err != nil {
		return err
	}
	task.SurveyText = &trimmed
	task.Status = models.TaskStatusReadyForAnalysis
	return nil
}

// EditSurvey reopens the survey. The previous text is kept until it is resubmitted.
func EditSurvey(task *models.Task) error {
	if err := checkAllowed(task, ActionEditSurvey); err != nil {
		return err
	}
	task.Status = models.TaskStatusAwaitingSurvey
	return nil
}

// BeginAnalysis hands the task to the orchestrator
func BeginAnalysis(task *models.Task) error {
	if err := checkAllowed(task, ActionTriggerAnalysis); err != nil {
		return err
	}
	if len(task.FirstGroupPhotos) == 0 || len(task.SecondGroupPhotos) == 0 {
		return &ValidationError{Field: "photos", Message: "both photo groups are required"}
	}
	if task.SurveyText == nil {
		return &ValidationError{Field: "text", Message: "survey answer is required"}
	}
	if _, err := ValidateSurvey(*task.SurveyText); err != nil {
		return err
	}
	task.Status = models.TaskStatusAnalyzing
	return nil
}

// RetryAnalysis returns a failed task to ready_for_analysis. Partial results stay
// until the next run overwrites them.
func RetryAnalysis(task *models.Task) error {
	if err := checkAllowed(task, ActionRetry); err != nil {
		return err
	}
	task.Status = models.TaskStatusReadyForAnalysis
	return nil
}

// StartAnalysisRun stamps the start of an orchestrator run
func StartAnalysisRun(task *models.Task, now time.Time) error {
	if task.Status != models.TaskStatusAnalyzing {
		return &TransitionError{Action: ActionTriggerAnalysis, Status: task.Status}
	}
	task.AnalysisStartedAt = &now
	task.AnalysisCompletedAt = nil
	return nil
}

// CompleteAnalysis records a fully successful run
func CompleteAnalysis(task *models.Task, now time.Time) error {
	if task.Status != models.TaskStatusAnalyzing {
		return &TransitionError{Action: ActionTriggerAnalysis, Status: task.Status}
	}
	task.Status = models.TaskStatusAnalysisComplete
	task.AnalysisCompletedAt = &now
	return nil
}

// FailAnalysis records a failed run. Results written before the failure are kept.
func FailAnalysis(task *models.Task) error {
	if task.Status != models.TaskStatusAnalyzing {
		return &TransitionError{Action: ActionTriggerAnalysis, Status: task.Status}
	}
	task.Status = models.TaskStatusAnalysisFailed
	return nil
}

// ViewResults checks that the report can be read. It never mutates the task.
func ViewResults(task *models.Task) error {
	return checkAllowed(task, ActionViewResults)
}

// CheckAccept checks that the task awaits acceptance. The transition itself is
// claimed at the repository so it happens at most once.
func CheckAccept(task *models.Task) error {
	return checkAllowed(task, ActionAccept)
}

// Dispute asks the master for a reason
func Dispute(task *models.Task) error {
	if err := checkAllowed(task, ActionDispute); err != nil {
		return err
	}
	task.Status = models.TaskStatusDisputing
	return nil
}

// SubmitDisputeReason closes the workflow as disputed without touching the quota
func SubmitDisputeReason(task *models.Task, reason string, now time.Time) error {
	if err := checkAllowed(task, ActionSubmitDispute); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &ValidationError{Field: "reason", Message: "dispute reason is required"}
	}
	task.DisputeReason = &reason
	task.DisputedAt = &now
	task.Status = models.TaskStatusDisputed
	return nil
}

// CancelDispute returns to the completed report
func CancelDispute(task *models.Task) error {
	if err := checkAllowed(task, ActionCancelDispute); err != nil {
		return err
	}
	task.Status = models.TaskStatusAnalysisComplete
	return nil
}

// CheckCancel checks that the task can be discarded. It is legal in every
// non-terminal status, including analyzing.
func CheckCancel(task *models.Task) error {
	return checkAllowed(task, ActionCancel)
}
