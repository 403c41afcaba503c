package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is shared with the work entry ledger; both lock the same row.
type Repository interface {
	FindByCompany(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*ServiceLevel, error)
	// FindByCompanyForUpdate row-locks the service level for the rest of tx.
	FindByCompanyForUpdate(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (*ServiceLevel, error)
	// UpdateBalance writes RemainingMinutes if the stored version still equals
	// sl.Version, then bumps sl.Version.
	UpdateBalance(ctx context.Context, tx *gorm.DB, sl *ServiceLevel, now time.Time) error
	// SaveRenewal is UpdateBalance plus the renewal dates.
	SaveRenewal(ctx context.Context, tx *gorm.DB, sl *ServiceLevel, now time.Time) error
	ListDueCompanyIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}

type RenewDueResult struct {
	Renewed []snowflake.ID `json:"renewed"`
	Failed  []snowflake.ID `json:"failed,omitempty"`
	// Skipped were listed as due but already renewed by an overlapping run.
	Skipped []snowflake.ID `json:"skipped,omitempty"`
}

type Service interface {
	GetByCompany(ctx context.Context, companyID snowflake.ID) (ServiceLevel, error)
	// Renew resets one company's balance now.
	Renew(ctx context.Context, companyID snowflake.ID) (ServiceLevel, error)
	// RenewDue renews every service level whose next renewal is at or before
	// now, one period per call.
	RenewDue(ctx context.Context, now time.Time) (RenewDueResult, error)
}

var (
	ErrServiceLevelNotFound = errors.New("service_level_not_found")
	ErrInvalidCompany       = errors.New("invalid_company")
	ErrForbidden            = errors.New("forbidden")
	ErrVersionConflict      = errors.New("service_level_version_conflict")
	ErrNotDue               = errors.New("service_level_not_due")
)
