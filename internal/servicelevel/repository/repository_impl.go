package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByCompany(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*domain.ServiceLevel, error) {
	return r.find(db.WithContext(ctx), companyID)
}

func (r *repo) FindByCompanyForUpdate(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (*domain.ServiceLevel, error) {
	return r.find(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), companyID)
}

func (r *repo) find(stmt *gorm.DB, companyID snowflake.ID) (*domain.ServiceLevel, error) {
	var sl domain.ServiceLevel
	err := stmt.Where("company_id = ?", companyID).First(&sl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sl, nil
}

func (r *repo) UpdateBalance(ctx context.Context, tx *gorm.DB, sl *domain.ServiceLevel, now time.Time) error {
	return r.guardedUpdate(ctx, tx, sl, map[string]any{
		"remaining_minutes": sl.RemainingMinutes,
		"version":           sl.Version + 1,
		"updated_at":        now,
	})
}

func (r *repo) SaveRenewal(ctx context.Context, tx *gorm.DB, sl *domain.ServiceLevel, now time.Time) error {
	return r.guardedUpdate(ctx, tx, sl, map[string]any{
		"remaining_minutes": sl.RemainingMinutes,
		"last_renewed_at":   sl.LastRenewedAt,
		"next_renewal_at":   sl.NextRenewalAt,
		"renewal_day":       sl.RenewalDay,
		"version":           sl.Version + 1,
		"updated_at":        now,
	})
}

func (r *repo) guardedUpdate(ctx context.Context, tx *gorm.DB, sl *domain.ServiceLevel, values map[string]any) error {
	if sl.RemainingMinutes < 0 || sl.RemainingMinutes > sl.TimeVolumeMinutes {
		return errors.New("service level balance out of range")
	}
	result := tx.WithContext(ctx).Model(&domain.ServiceLevel{}).
		Where("id = ? AND version = ?", sl.ID, sl.Version).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	sl.Version++
	return nil
}

func (r *repo) ListDueCompanyIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	stmt := db.WithContext(ctx).Model(&domain.ServiceLevel{}).
		Where("next_renewal_at IS NOT NULL AND next_renewal_at <= ?", now).
		Order("next_renewal_at asc, company_id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Pluck("company_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
