package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	"github.com/smallbiznis/supportdesk/internal/directory/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("directory.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetCompany(ctx context.Context, id snowflake.ID) (domain.Company, error) {
	if id == 0 {
		return domain.Company{}, domain.ErrInvalidCompany
	}
	company, err := s.repo.FindCompany(ctx, s.db, id)
	if err != nil {
		return domain.Company{}, db.Wrap(err)
	}
	if company == nil {
		return domain.Company{}, domain.ErrCompanyNotFound
	}
	return *company, nil
}

func (s *Service) ListAdmins(ctx context.Context) ([]domain.User, error) {
	users, err := s.repo.ListUsers(ctx, s.db, domain.RecipientFilter{Role: string(actorcontext.RoleAdmin)})
	if err != nil {
		return nil, db.Wrap(err)
	}
	return users, nil
}

func (s *Service) ListCompanyRecipients(ctx context.Context, companyID snowflake.ID, role string, pref domain.Preference) ([]domain.User, error) {
	if companyID == 0 {
		return nil, domain.ErrInvalidCompany
	}
	switch pref {
	case domain.PreferenceLowVolume, domain.PreferenceTicketUpdates:
	default:
		return nil, domain.ErrInvalidPreference
	}
	users, err := s.repo.ListUsers(ctx, s.db, domain.RecipientFilter{
		CompanyID:  companyID,
		Role:       role,
		Preference: pref,
	})
	if err != nil {
		return nil, db.Wrap(err)
	}
	return users, nil
}
