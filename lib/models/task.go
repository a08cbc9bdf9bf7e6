package models

import (
	"time"
)

// TaskStatus is the workflow state of an analysis task
type TaskStatus string

// Task status constants
const (
	TaskStatusStarted          TaskStatus = "started"
	TaskStatusCollectingSecond TaskStatus = "collecting_second"
	TaskStatusAwaitingSurvey   TaskStatus = "awaiting_survey"
	TaskStatusReadyForAnalysis TaskStatus = "ready_for_analysis"
	TaskStatusAnalyzing        TaskStatus = "analyzing"
	TaskStatusAnalysisFailed   TaskStatus = "analysis_failed"
	TaskStatusAnalysisComplete TaskStatus = "analysis_complete"
	TaskStatusDisputing        TaskStatus = "disputing"
	TaskStatusDisputed         TaskStatus = "disputed"
	TaskStatusFinalized        TaskStatus = "finalized"
	TaskStatusDiscarded        TaskStatus = "discarded"
)

// IsTerminal reports whether the workflow has ended for a task in this status.
// Disputed is terminal for the master but waits for administrative resolution.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusFinalized, TaskStatusDisputed, TaskStatusDiscarded:
		return true
	}
	return false
}

// IsValid reports whether s is a known status
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusStarted, TaskStatusCollectingSecond, TaskStatusAwaitingSurvey,
		TaskStatusReadyForAnalysis, TaskStatusAnalyzing, TaskStatusAnalysisFailed,
		TaskStatusAnalysisComplete, TaskStatusDisputing, TaskStatusDisputed,
		TaskStatusFinalized, TaskStatusDiscarded:
		return true
	}
	return false
}

// PhotoGroup identifies one of the two independent photo sequences of a task
type PhotoGroup string

// Photo group constants
const (
	PhotoGroupFirst  PhotoGroup = "first"
	PhotoGroupSecond PhotoGroup = "second"
)

// IsValid reports whether g names a known group
func (g PhotoGroup) IsValid() bool {
	return g == PhotoGroupFirst || g == PhotoGroupSecond
}

// Task is one photograph-survey-analysis-review cycle for one client visit
type Task struct {
	TaskID              int64           `json:"task_id"`
	MemberID            int64           `json:"member_id"`
	OrgID               int64           `json:"org_id"` // snapshot at creation, does not follow member reassignment
	FirstGroupPhotos    []string        `json:"first_group_photos"`
	SecondGroupPhotos   []string        `json:"second_group_photos"`
	SurveyText          *string         `json:"survey_text"`
	FirstResult         *AnalysisResult `json:"first_result"`
	SecondResult        *AnalysisResult `json:"second_result"`
	AggregateResult     *AnalysisResult `json:"aggregate_result"`
	Status              TaskStatus      `json:"status"`
	DisputeReason       *string         `json:"dispute_reason"`
	CreatedAt           time.Time       `json:"created_at"`
	AnalysisStartedAt   *time.Time      `json:"analysis_started_at"`
	AnalysisCompletedAt *time.Time      `json:"analysis_completed_at"`
	FinalizedAt         *time.Time      `json:"finalized_at"`
	DisputedAt          *time.Time      `json:"disputed_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Photos returns the photo references of a group
func (t *Task) Photos(group PhotoGroup) []string {
	if group == PhotoGroupSecond {
		return t.SecondGroupPhotos
	}
	return t.FirstGroupPhotos
}

// AppendPhoto adds a reference to the end of a group
func (t *Task) AppendPhoto(group PhotoGroup, ref string) {
	if group == PhotoGroupSecond {
		t.SecondGroupPhotos = append(t.SecondGroupPhotos, ref)
		return
	}
	t.FirstGroupPhotos = append(t.FirstGroupPhotos, ref)
}

// PopPhoto removes and returns the last reference of a group
func (t *Task) PopPhoto(group PhotoGroup) (string, bool) {
	photos := t.Photos(group)
	if len(photos) == 0 {
		return "", false
	}
	last := photos[len(photos)-1]
	photos = photos[:len(photos)-1]
	if group == PhotoGroupSecond {
		t.SecondGroupPhotos = photos
	} else {
		t.FirstGroupPhotos = photos
	}
	return last, true
}

// TotalPhotos returns the number of photos across both groups
func (t *Task) TotalPhotos() int {
	return len(t.FirstGroupPhotos) + len(t.SecondGroupPhotos)
}

// AnalysisDuration is only known once the analysis completed
func (t *Task) AnalysisDuration() (time.Duration, bool) {
	if t.AnalysisStartedAt == nil || t.AnalysisCompletedAt == nil {
		return 0, false
	}
	return t.AnalysisCompletedAt.Sub(*t.AnalysisStartedAt), true
}

// Clone returns a deep copy, so callers can mutate without aliasing the original slices
func (t *Task) Clone() *Task {
	c := *t
	c.FirstGroupPhotos = append([]string(nil), t.FirstGroupPhotos...)
	c.SecondGroupPhotos = append([]string(nil), t.SecondGroupPhotos...)
	c.FirstResult = t.FirstResult.Clone()
	c.SecondResult = t.SecondResult.Clone()
	c.AggregateResult = t.AggregateResult.Clone()
	return &c
}

// AddPhotoRequest attaches an uploaded photo to the group the task is collecting
type AddPhotoRequest struct {
	PhotoRef string `json:"photo_ref" validate:"required"`
}

// PhotoUploadURLRequest asks for a presigned upload URL for the next photo
type PhotoUploadURLRequest struct {
	FileName    string `json:"file_name" validate:"required"`
	ContentType string `json:"content_type,omitempty"`
}

// PhotoUploadURLResponse represents the response with a presigned URL
type PhotoUploadURLResponse struct {
	PhotoRef  string `json:"photo_ref"`
	UploadURL string `json:"upload_url"`
	ExpiresAt string `json:"expires_at"`
}

// SurveyRequest carries the master's free-text survey answer
type SurveyRequest struct {
	Text string `json:"text"`
}

// DisputeRequest carries the reason a master rejects the report
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// TaskResponse is a task together with the intents currently available to its master
type TaskResponse struct {
	Task           *Task    `json:"task"`
	AllowedActions []string `json:"allowed_actions"`
}

// TaskResultsResponse is the read-only report of a completed analysis
type TaskResultsResponse struct {
	TaskID                  int64           `json:"task_id"`
	FirstResult             *AnalysisResult `json:"first_result"`
	SecondResult            *AnalysisResult `json:"second_result"`
	AggregateResult         *AnalysisResult `json:"aggregate_result"`
	AnalysisDurationSeconds *int64          `json:"analysis_duration_seconds,omitempty"`
}

// AcceptResponse reports the quota left after a task was finalized
type AcceptResponse struct {
	Task           *Task `json:"task"`
	QuotaRemaining int   `json:"quota_remaining"`
}
