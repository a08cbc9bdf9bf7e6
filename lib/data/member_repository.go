package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"manicure/lib/models"

	"github.com/sirupsen/logrus"
)

// MemberRepository defines the interface for master data operations
type MemberRepository interface {
	CreateMember(ctx context.Context, member *models.Member) (*models.Member, error)
	GetMember(ctx context.Context, memberID int64) (*models.Member, error)
	GetMemberByExternalIdentity(ctx context.Context, identity string) (*models.Member, error)
	ReassignMember(ctx context.Context, memberID, orgID int64) (*models.Member, error)
	DeactivateMember(ctx context.Context, memberID int64) error
	GetMemberStats(ctx context.Context, memberID int64) (*models.MemberStats, error)
}

// MemberDao implements the MemberRepository interface for PostgreSQL
type MemberDao struct {
	DB     *sql.DB
	Logger *logrus.Logger
}

// Every membership lookup joins the owning salon and requires both to be active.
const memberSelect = `
	SELECT m.id, m.organization_id, m.display_name, m.external_identity, m.username,
		m.is_active, m.completed_task_count, m.created_at, m.updated_at
	FROM salon.members m
	INNER JOIN salon.organizations o ON o.id = m.organization_id
`

func scanMember(row interface{ Scan(...any) error }) (*models.Member, error) {
	var member models.Member
	var username sql.NullString
	err := row.Scan(
		&member.MemberID,
		&member.OrgID,
		&member.DisplayName,
		&member.ExternalIdentity,
		&username,
		&member.IsActive,
		&member.CompletedTaskCount,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if username.Valid {
		member.Username = &username.String
	}
	return &member, nil
}

// CreateMember registers a master in an active salon
func (dao *MemberDao) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	query := `
		INSERT INTO salon.members (organization_id, display_name, external_identity, username, is_active, completed_task_count)
		SELECT o.id, $2, $3, $4, true, 0
		FROM salon.organizations o
		WHERE o.id = $1 AND o.is_active = true
		RETURNING id, organization_id, display_name, external_identity, username,
			is_active, completed_task_count, created_at, updated_at
	`

	var username sql.NullString
	if member.Username != nil {
		username = sql.NullString{String: *member.Username, Valid: true}
	}

	created, err := scanMember(dao.DB.QueryRowContext(ctx, query,
		member.OrgID,
		member.DisplayName,
		member.ExternalIdentity,
		username,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": "CreateMember",
				"org_id":    member.OrgID,
			}).Warn("Organization not found for new member")
			return nil, ErrOrganizationNotFound
		}
		if isUniqueViolation(err) {
			dao.Logger.WithFields(logrus.Fields{
				"operation":         "CreateMember",
				"external_identity": member.ExternalIdentity,
			}).Warn("External identity already registered")
			return nil, ErrDuplicateIdentity
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "CreateMember",
			"org_id":    member.OrgID,
			"error":     err.Error(),
		}).Error("Failed to create member")
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation": "CreateMember",
		"member_id": created.MemberID,
		"org_id":    created.OrgID,
	}).Info("Member created successfully")

	return created, nil
}

// GetMember retrieves an active member of an active salon
func (dao *MemberDao) GetMember(ctx context.Context, memberID int64) (*models.Member, error) {
	query := memberSelect + ` WHERE m.id = $1 AND m.is_active = true AND o.is_active = true`
	return dao.getMember(ctx, "GetMember", query, memberID)
}

// GetMemberByExternalIdentity resolves the authenticated caller to a member
func (dao *MemberDao) GetMemberByExternalIdentity(ctx context.Context, identity string) (*models.Member, error) {
	query := memberSelect + ` WHERE m.external_identity = $1 AND m.is_active = true AND o.is_active = true`
	return dao.getMember(ctx, "GetMemberByExternalIdentity", query, identity)
}

func (dao *MemberDao) getMember(ctx context.Context, operation, query string, arg any) (*models.Member, error) {
	member, err := scanMember(dao.DB.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": operation,
				"key":       arg,
			}).Warn("Member not found")
			return nil, ErrMemberNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": operation,
			"key":       arg,
			"error":     err.Error(),
		}).Error("Failed to get member")
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// ReassignMember moves a master to another active salon. Existing tasks keep
// the organization they were created under.
func (dao *MemberDao) ReassignMember(ctx context.Context, memberID, orgID int64) (*models.Member, error) {
	query := `
		UPDATE salon.members m
		SET organization_id = o.id, updated_at = CURRENT_TIMESTAMP
		FROM salon.organizations o
		WHERE m.id = $1 AND m.is_active = true AND o.id = $2 AND o.is_active = true
		RETURNING m.id, m.organization_id, m.display_name, m.external_identity, m.username,
			m.is_active, m.completed_task_count, m.created_at, m.updated_at
	`

	member, err := scanMember(dao.DB.QueryRowContext(ctx, query, memberID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": "ReassignMember",
				"member_id": memberID,
				"org_id":    orgID,
			}).Warn("Member or organization not found")
			return nil, ErrMemberNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "ReassignMember",
			"member_id": memberID,
			"org_id":    orgID,
			"error":     err.Error(),
		}).Error("Failed to reassign member")
		return nil, fmt.Errorf("failed to reassign member: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation": "ReassignMember",
		"member_id": memberID,
		"org_id":    orgID,
	}).Info("Member reassigned")

	return member, nil
}

// DeactivateMember soft-deletes a master; historical tasks keep referencing it
func (dao *MemberDao) DeactivateMember(ctx context.Context, memberID int64) error {
	query := `
		UPDATE salon.members
		SET is_active = false, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND is_active = true
	`
	return dao.execSingle(ctx, "DeactivateMember", query, memberID)
}

// countCompletedTask bumps the denormalized finalized-task counter inside the
// caller's transaction
func countCompletedTask(ctx context.Context, tx execer, logger *logrus.Logger, memberID int64) error {
	query := `
		UPDATE salon.members
		SET completed_task_count = completed_task_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := tx.ExecContext(ctx, query, memberID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "countCompletedTask",
			"member_id": memberID,
			"error":     err.Error(),
		}).Error("Failed to increment completed task count")
		return fmt.Errorf("failed to increment completed task count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		logger.WithField("member_id", memberID).Warn("Member not found for completed task count")
		return ErrMemberNotFound
	}

	return nil
}

func (dao *MemberDao) execSingle(ctx context.Context, operation, query string, memberID int64) error {
	result, err := dao.DB.ExecContext(ctx, query, memberID)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": operation,
			"member_id": memberID,
			"error":     err.Error(),
		}).Error("Failed to update member")
		return fmt.Errorf("failed to update member: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		dao.Logger.WithFields(logrus.Fields{
			"operation": operation,
			"member_id": memberID,
		}).Warn("Member not found")
		return ErrMemberNotFound
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation": operation,
		"member_id": memberID,
	}).Debug("Member updated")

	return nil
}

// GetMemberStats counts the member's tasks by workflow outcome
func (dao *MemberDao) GetMemberStats(ctx context.Context, memberID int64) (*models.MemberStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'finalized'),
			COUNT(*) FILTER (WHERE status NOT IN ('finalized', 'disputed', 'discarded')),
			COUNT(*) FILTER (WHERE status = 'disputed')
		FROM salon.tasks
		WHERE member_id = $1
	`

	stats := models.MemberStats{MemberID: memberID}
	err := dao.DB.QueryRowContext(ctx, query, memberID).Scan(
		&stats.TotalTasks,
		&stats.FinalizedTasks,
		&stats.InProgress,
		&stats.Disputed,
	)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "GetMemberStats",
			"member_id": memberID,
			"error":     err.Error(),
		}).Error("Failed to get member stats")
		return nil, fmt.Errorf("failed to get member stats: %w", err)
	}

	return &stats, nil
}
