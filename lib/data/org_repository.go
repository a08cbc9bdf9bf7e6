package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"manicure/lib/models"

	"github.com/sirupsen/logrus"
)

// OrgRepository defines the interface for salon (organization) data operations
type OrgRepository interface {
	CreateOrganization(ctx context.Context, org *models.Organization) (*models.Organization, error)
	GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	SetQuotaLimit(ctx context.Context, orgID int64, limit int) (*models.Organization, error)
	AddQuota(ctx context.Context, orgID int64, amount int) (*models.Organization, error)
	DeactivateOrganization(ctx context.Context, orgID int64) (int, error)
}

// OrgDao implements the OrgRepository interface for PostgreSQL
type OrgDao struct {
	DB     *sql.DB
	Logger *logrus.Logger
}

const orgColumns = `id, name, location, quota_limit, quota_used, is_active, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }, org *models.Organization) error {
	return row.Scan(
		&org.OrgID,
		&org.Name,
		&org.Location,
		&org.QuotaLimit,
		&org.QuotaUsed,
		&org.IsActive,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
}

// CreateOrganization registers a new active salon with an unused quota
func (dao *OrgDao) CreateOrganization(ctx context.Context, org *models.Organization) (*models.Organization, error) {
	query := `
		INSERT INTO salon.organizations (name, location, quota_limit, quota_used, is_active)
		VALUES ($1, $2, $3, 0, true)
		RETURNING ` + orgColumns

	var created models.Organization
	err := scanOrganization(dao.DB.QueryRowContext(ctx, query, org.Name, org.Location, org.QuotaLimit), &created)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "CreateOrganization",
			"name":      org.Name,
			"error":     err.Error(),
		}).Error("Failed to create organization")
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation":   "CreateOrganization",
		"org_id":      created.OrgID,
		"name":        created.Name,
		"quota_limit": created.QuotaLimit,
	}).Info("Organization created successfully")

	return &created, nil
}

// GetOrganization retrieves an active organization. Quota fields are read straight
// from the table on every call so administrative changes are visible immediately.
func (dao *OrgDao) GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM salon.organizations
		WHERE id = $1 AND is_active = true
	`

	var org models.Organization
	err := scanOrganization(dao.DB.QueryRowContext(ctx, query, orgID), &org)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": "GetOrganization",
				"org_id":    orgID,
			}).Warn("Organization not found")
			return nil, ErrOrganizationNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": "GetOrganization",
			"org_id":    orgID,
			"error":     err.Error(),
		}).Error("Failed to get organization")
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

// ListOrganizations returns all active salons ordered by name
func (dao *OrgDao) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM salon.organizations
		WHERE is_active = true
		ORDER BY name
	`

	rows, err := dao.DB.QueryContext(ctx, query)
	if err != nil {
		dao.Logger.WithError(err).WithField("operation", "ListOrganizations").Error("Failed to list organizations")
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := []models.Organization{}
	for rows.Next() {
		var org models.Organization
		if err := scanOrganization(rows, &org); err != nil {
			dao.Logger.WithError(err).WithField("operation", "ListOrganizations").Error("Failed to scan organization row")
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}

	if err = rows.Err(); err != nil {
		dao.Logger.WithError(err).WithField("operation", "ListOrganizations").Error("Row iteration error")
		return nil, err
	}

	return orgs, nil
}

// debitQuota increments usage with a single atomic UPDATE inside the caller's
// transaction. There is no ceiling check: usage may exceed a limit that was
// lowered after the fact.
func debitQuota(ctx context.Context, tx execer, logger *logrus.Logger, orgID int64, amount int) error {
	query := `
		UPDATE salon.organizations
		SET quota_used = quota_used + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := tx.ExecContext(ctx, query, amount, orgID)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operation": "debitQuota",
			"org_id":    orgID,
			"amount":    amount,
			"error":     err.Error(),
		}).Error("Failed to increment quota usage")
		return fmt.Errorf("failed to increment quota usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		logger.WithField("org_id", orgID).Warn("Organization not found for quota debit")
		return ErrOrganizationNotFound
	}

	return nil
}

// SetQuotaLimit replaces the limit. A limit below current usage is accepted.
func (dao *OrgDao) SetQuotaLimit(ctx context.Context, orgID int64, limit int) (*models.Organization, error) {
	query := `
		UPDATE salon.organizations
		SET quota_limit = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND is_active = true
		RETURNING ` + orgColumns

	return dao.updateQuota(ctx, "SetQuotaLimit", query, limit, orgID)
}

// AddQuota raises the limit by amount in place
func (dao *OrgDao) AddQuota(ctx context.Context, orgID int64, amount int) (*models.Organization, error) {
	query := `
		UPDATE salon.organizations
		SET quota_limit = quota_limit + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND is_active = true
		RETURNING ` + orgColumns

	return dao.updateQuota(ctx, "AddQuota", query, amount, orgID)
}

func (dao *OrgDao) updateQuota(ctx context.Context, operation, query string, value int, orgID int64) (*models.Organization, error) {
	var org models.Organization
	err := scanOrganization(dao.DB.QueryRowContext(ctx, query, value, orgID), &org)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			dao.Logger.WithFields(logrus.Fields{
				"operation": operation,
				"org_id":    orgID,
			}).Warn("Organization not found")
			return nil, ErrOrganizationNotFound
		}
		dao.Logger.WithFields(logrus.Fields{
			"operation": operation,
			"org_id":    orgID,
			"error":     err.Error(),
		}).Error("Failed to update organization quota")
		return nil, fmt.Errorf("failed to update organization quota: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation":   operation,
		"org_id":      org.OrgID,
		"quota_limit": org.QuotaLimit,
		"quota_used":  org.QuotaUsed,
	}).Info("Organization quota updated")

	return &org, nil
}

// DeactivateOrganization soft-deletes a salon and all of its active members
func (dao *OrgDao) DeactivateOrganization(ctx context.Context, orgID int64) (int, error) {
	tx, err := dao.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE salon.organizations
		SET is_active = false, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND is_active = true
	`, orgID)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "DeactivateOrganization",
			"org_id":    orgID,
			"error":     err.Error(),
		}).Error("Failed to deactivate organization")
		return 0, fmt.Errorf("failed to deactivate organization: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, ErrOrganizationNotFound
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE salon.members
		SET is_active = false, updated_at = CURRENT_TIMESTAMP
		WHERE organization_id = $1 AND is_active = true
	`, orgID)
	if err != nil {
		dao.Logger.WithFields(logrus.Fields{
			"operation": "DeactivateOrganization",
			"org_id":    orgID,
			"error":     err.Error(),
		}).Error("Failed to deactivate organization members")
		return 0, fmt.Errorf("failed to deactivate members: %w", err)
	}

	members, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	dao.Logger.WithFields(logrus.Fields{
		"operation":           "DeactivateOrganization",
		"org_id":              orgID,
		"deactivated_members": members,
	}).Info("Organization deactivated")

	return int(members), nil
}
