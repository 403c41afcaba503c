package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/workentry/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.WorkEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WorkEntry, error) {
	return r.find(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.WorkEntry, error) {
	return r.find(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) find(stmt *gorm.DB, id snowflake.ID) (*domain.WorkEntry, error) {
	var entry domain.WorkEntry
	err := stmt.Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) UpdateUnbilled(ctx context.Context, tx *gorm.DB, entry *domain.WorkEntry) (bool, error) {
	result := tx.WithContext(ctx).Model(&domain.WorkEntry{}).
		Where("id = ? AND is_billed = ?", entry.ID, false).
		Updates(map[string]any{
			"minutes":                 entry.Minutes,
			"rounded_minutes":         entry.RoundedMinutes,
			"description":             entry.Description,
			"hourly_rate":             entry.HourlyRate,
			"total_amount":            entry.TotalAmount,
			"is_from_included_volume": entry.IsFromIncludedVolume,
			"updated_at":              entry.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) DeleteUnbilled(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error) {
	result := tx.WithContext(ctx).
		Where("id = ? AND is_billed = ?", id, false).
		Delete(&domain.WorkEntry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListByTicket(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) ([]domain.WorkEntry, error) {
	var entries []domain.WorkEntry
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListUnbilledBillable(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]domain.WorkEntry, error) {
	var entries []domain.WorkEntry
	err := db.WithContext(ctx).
		Table("work_entries AS w").
		Select("w.*").
		Joins("JOIN tickets t ON t.id = w.ticket_id").
		Where("t.company_id = ? AND w.is_billed = ? AND w.is_from_included_volume = ?", companyID, false, false).
		Order("w.created_at asc, w.id asc").
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) TicketCompanyID(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) (snowflake.ID, bool, error) {
	var rows []struct {
		CompanyID snowflake.ID `gorm:"column:company_id"`
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT company_id FROM tickets WHERE id = ? LIMIT 1`,
		ticketID,
	).Scan(&rows).Error; err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].CompanyID, true, nil
}

func (r *repo) CompanyIDsForEntries(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]snowflake.ID, error) {
	var companyIDs []snowflake.ID
	if err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT t.company_id
		 FROM work_entries w
		 JOIN tickets t ON t.id = w.ticket_id
		 WHERE w.id IN ?
		 ORDER BY t.company_id`,
		ids,
	).Scan(&companyIDs).Error; err != nil {
		return nil, err
	}
	return companyIDs, nil
}

func (r *repo) UnbilledIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]snowflake.ID, error) {
	var unbilled []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.WorkEntry{}).
		Where("id IN ? AND is_billed = ?", ids, false).
		Order("id asc").
		Pluck("id", &unbilled).Error
	if err != nil {
		return nil, err
	}
	return unbilled, nil
}

func (r *repo) MarkBilled(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, billedAt time.Time) (int64, error) {
	result := tx.WithContext(ctx).Model(&domain.WorkEntry{}).
		Where("id IN ? AND is_billed = ?", ids, false).
		Updates(map[string]any{
			"is_billed":  true,
			"billed_at":  billedAt,
			"updated_at": billedAt,
		})
	return result.RowsAffected, result.Error
}
