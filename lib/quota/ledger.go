// Package quota tracks how many analyses a salon may still finalize.
//
// The ledger reads limit and usage straight from the store on every call, so
// administrative changes are visible immediately. CanStart and Debit are not
// transactional with each other: concurrent task starts in one salon may
// together finalize more tasks than the remaining quota allowed when they
// started. A debit itself is written by a Charge, in the same transaction as
// the state change it pays for.
package quota

import (
	"context"
	"errors"
	"fmt"
	"manicure/lib/models"

	"github.com/sirupsen/logrus"
)

// Store is the part of the organization repository the ledger needs
type Store interface {
	GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error)
}

// Charge increments usage by amount atomically with the state change being
// paid for. When it fails, neither is applied.
type Charge func(ctx context.Context, amount int) error

// AcceptDebit is charged once per finalized task
const AcceptDebit = 1

// ErrInvalidAmount is returned for non-positive debits
var ErrInvalidAmount = errors.New("debit amount must be positive")

// ExhaustedError reports that a salon has no quota left to start a task
type ExhaustedError struct {
	OrgID int64
	Limit int
	Used  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("organization %d has no analyses left (limit %d, used %d)", e.OrgID, e.Limit, e.Used)
}

// Remaining is always zero when the limit was lowered below usage
func (e *ExhaustedError) Remaining() int {
	return models.RemainingQuota(e.Limit, e.Used)
}

// Ledger exposes the quota operations of the workflow
type Ledger struct {
	Store  Store
	Logger *logrus.Logger
}

// NewLedger creates a ledger over store
func NewLedger(store Store, logger *logrus.Logger) *Ledger {
	return &Ledger{Store: store, Logger: logger}
}

// Remaining returns max(0, limit - used) for an active organization
func (l *Ledger) Remaining(ctx context.Context, orgID int64) (int, error) {
	org, err := l.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return 0, err
	}
	return org.QuotaRemaining(), nil
}

// CanStart is the only gate checked before a task begins. It returns an
// *ExhaustedError when nothing remains.
func (l *Ledger) CanStart(ctx context.Context, orgID int64) error {
	org, err := l.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return err
	}

	if org.QuotaRemaining() <= 0 {
		l.Logger.WithFields(logrus.Fields{
			"operation":   "CanStart",
			"org_id":      orgID,
			"quota_limit": org.QuotaLimit,
			"quota_used":  org.QuotaUsed,
		}).Info("Quota exhausted, task start blocked")
		return &ExhaustedError{OrgID: orgID, Limit: org.QuotaLimit, Used: org.QuotaUsed}
	}

	return nil
}

// Debit increments usage of orgID through charge. Usage may pass the limit.
func (l *Ledger) Debit(ctx context.Context, orgID int64, amount int, charge Charge) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if err := charge(ctx, amount); err != nil {
		l.Logger.WithFields(logrus.Fields{
			"operation": "Debit",
			"org_id":    orgID,
			"amount":    amount,
			"error":     err.Error(),
		}).Warn("Quota debit not applied")
		return err
	}

	l.Logger.WithFields(logrus.Fields{
		"operation": "Debit",
		"org_id":    orgID,
		"amount":    amount,
	}).Info("Quota debited")

	return nil
}

// Quota returns the quota view of an organization
func (l *Ledger) Quota(ctx context.Context, orgID int64) (*models.QuotaResponse, error) {
	org, err := l.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp := models.NewQuotaResponse(org)
	return &resp, nil
}
