package models

import (
	"time"
)

// AnalysisKind tags which sub-call produced a result
type AnalysisKind string

// Analysis kind constants
const (
	AnalysisKindFirstGroup  AnalysisKind = "first_group"
	AnalysisKindSecondGroup AnalysisKind = "second_group"
	AnalysisKindAggregate   AnalysisKind = "aggregate"
)

// AnalysisResult is the validated payload of one analysis sub-call
type AnalysisResult struct {
	Kind            AnalysisKind `json:"kind"`
	Status          string       `json:"status"`
	SummaryText     string       `json:"summary_text"`
	Score           float64      `json:"score"`
	Recommendations []string     `json:"recommendations"`
	ProblemAreas    []string     `json:"problem_areas,omitempty"`
	PhotosAnalyzed  int          `json:"photos_analyzed,omitempty"`
}

// Clone returns a deep copy (nil-safe)
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Recommendations = append([]string(nil), r.Recommendations...)
	if r.ProblemAreas != nil {
		c.ProblemAreas = append([]string(nil), r.ProblemAreas...)
	}
	return &c
}

// AnalysisStep names a sub-call of the orchestrator, in execution order
type AnalysisStep string

// Analysis step constants
const (
	AnalysisStepFirstGroup  AnalysisStep = "first_group"
	AnalysisStepSecondGroup AnalysisStep = "second_group"
	AnalysisStepSynthesis   AnalysisStep = "synthesis"
)

// Step log status constants
const (
	StepStatusStarted   = "started"
	StepStatusCompleted = "completed"
	StepStatusError     = "error"
)

// AnalysisStepLog records the outcome of one orchestrator sub-call
type AnalysisStepLog struct {
	ID           int64        `json:"id"`
	TaskID       int64        `json:"task_id"`
	Step         AnalysisStep `json:"step"`
	Status       string       `json:"status"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	DurationMS   int64        `json:"duration_ms"`
	CreatedAt    time.Time    `json:"created_at"`
}

// AnalysisOutcomeStatus is the orchestrator's verdict for one run
type AnalysisOutcomeStatus string

// Analysis outcome constants
const (
	AnalysisOutcomeSucceeded AnalysisOutcomeStatus = "succeeded"
	AnalysisOutcomeFailed    AnalysisOutcomeStatus = "failed"
)

// AnalysisOutcome describes how an orchestrator run ended
type AnalysisOutcome struct {
	Status     AnalysisOutcomeStatus `json:"status"`
	FailedStep AnalysisStep          `json:"failed_step,omitempty"`
	Error      string                `json:"error,omitempty"`
	Task       *Task                 `json:"task"`
}
