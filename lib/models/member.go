package models

import (
	"time"
)

// Member represents a master: the actor who performs analysis tasks for exactly one salon
type Member struct {
	MemberID           int64     `json:"member_id"`
	OrgID              int64     `json:"org_id"`
	DisplayName        string    `json:"display_name"`
	ExternalIdentity   string    `json:"external_identity"`
	Username           *string   `json:"username,omitempty"`
	IsActive           bool      `json:"is_active"`
	CompletedTaskCount int       `json:"completed_task_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CreateMemberRequest represents the request payload for registering a master
type CreateMemberRequest struct {
	OrgID            int64  `json:"org_id" validate:"required"`
	DisplayName      string `json:"display_name" validate:"required,min=2,max=255"`
	ExternalIdentity string `json:"external_identity" validate:"required"`
	Username         string `json:"username,omitempty"`
}

// ReassignMemberRequest moves a master to another salon
type ReassignMemberRequest struct {
	OrgID int64 `json:"org_id" validate:"required"`
}

// MemberStats summarizes the tasks of a master
type MemberStats struct {
	MemberID       int64 `json:"member_id"`
	TotalTasks     int   `json:"total_tasks"`
	FinalizedTasks int   `json:"finalized_tasks"`
	InProgress     int   `json:"in_progress_tasks"`
	Disputed       int   `json:"disputed_tasks"`
	LastTask       *Task `json:"last_task,omitempty"`
}
