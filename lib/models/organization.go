package models

import (
	"time"
)

// Organization represents a salon: the tenant that owns the analysis quota
type Organization struct {
	OrgID      int64     `json:"org_id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	QuotaLimit int       `json:"quota_limit"`
	QuotaUsed  int       `json:"quota_used"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QuotaRemaining never goes negative, even after the limit was reduced below usage.
func (o *Organization) QuotaRemaining() int {
	return RemainingQuota(o.QuotaLimit, o.QuotaUsed)
}

// QuotaUsagePercent returns usage as a percentage of the limit (0 when there is no limit)
func (o *Organization) QuotaUsagePercent() float64 {
	if o.QuotaLimit <= 0 {
		return 0
	}
	return float64(o.QuotaUsed) / float64(o.QuotaLimit) * 100
}

// RemainingQuota returns max(0, limit - used)
func RemainingQuota(limit, used int) int {
	if remaining := limit - used; remaining > 0 {
		return remaining
	}
	return 0
}

// CreateOrganizationRequest represents the request payload for registering a salon
type CreateOrganizationRequest struct {
	Name       string `json:"name" validate:"required,min=2,max=255"`
	Location   string `json:"location" validate:"required,min=2,max=255"`
	QuotaLimit int    `json:"quota_limit" validate:"min=0,max=999999"`
}

// UpdateQuotaLimitRequest replaces the quota limit of a salon
type UpdateQuotaLimitRequest struct {
	QuotaLimit int `json:"quota_limit" validate:"min=0,max=999999"`
}

// AddQuotaRequest tops up the quota limit of a salon
type AddQuotaRequest struct {
	Amount int `json:"amount" validate:"required,min=1,max=999999"`
}

// QuotaResponse is the quota view returned to masters and admins
type QuotaResponse struct {
	OrgID        int64   `json:"org_id"`
	Name         string  `json:"name"`
	QuotaLimit   int     `json:"quota_limit"`
	QuotaUsed    int     `json:"quota_used"`
	Remaining    int     `json:"remaining"`
	UsagePercent float64 `json:"usage_percent"`
}

// NewQuotaResponse builds the quota view of an organization
func NewQuotaResponse(org *Organization) QuotaResponse {
	return QuotaResponse{
		OrgID:        org.OrgID,
		Name:         org.Name,
		QuotaLimit:   org.QuotaLimit,
		QuotaUsed:    org.QuotaUsed,
		Remaining:    org.QuotaRemaining(),
		UsagePercent: org.QuotaUsagePercent(),
	}
}

// DeactivateOrganizationResponse reports the cascade of a salon deactivation
type DeactivateOrganizationResponse struct {
	OrgID              int64 `json:"org_id"`
	DeactivatedMembers int   `json:"deactivated_members"`
}
