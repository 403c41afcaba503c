package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/directory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCompany(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Company, error) {
	var company domain.Company
	err := db.WithContext(ctx).Where("id = ?", id).First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}

func (r *repo) ListUsers(ctx context.Context, db *gorm.DB, filter domain.RecipientFilter) ([]domain.User, error) {
	stmt := db.WithContext(ctx).Model(&domain.User{})
	if filter.CompanyID != 0 {
		stmt = stmt.Where("company_id = ?", filter.CompanyID)
	}
	if filter.Role != "" {
		stmt = stmt.Where("role = ?", filter.Role)
	}
	switch filter.Preference {
	case domain.PreferenceLowVolume:
		stmt = stmt.Where("notify_low_volume = ?", true)
	case domain.PreferenceTicketUpdates:
		stmt = stmt.Where("notify_ticket_updates = ?", true)
	}

	var users []domain.User
	if err := stmt.Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
