package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const renewDueBatchSize = 500

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("servicelevel.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) GetByCompany(ctx context.Context, companyID snowflake.ID) (domain.ServiceLevel, error) {
	if companyID == 0 {
		return domain.ServiceLevel{}, domain.ErrInvalidCompany
	}
	actor, ok := actorcontext.FromContext(ctx)
	if !ok || !actor.CanAccessCompany(companyID) {
		return domain.ServiceLevel{}, domain.ErrForbidden
	}

	sl, err := s.repo.FindByCompany(ctx, s.db, companyID)
	if err != nil {
		return domain.ServiceLevel{}, db.Wrap(err)
	}
	if sl == nil {
		return domain.ServiceLevel{}, domain.ErrServiceLevelNotFound
	}
	return *sl, nil
}

func (s *Service) Renew(ctx context.Context, companyID snowflake.ID) (domain.ServiceLevel, error) {
	if companyID == 0 {
		return domain.ServiceLevel{}, domain.ErrInvalidCompany
	}
	actor, ok := actorcontext.FromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return domain.ServiceLevel{}, domain.ErrForbidden
	}
	return s.renewCompany(ctx, companyID, "manual", nil)
}

func (s *Service) RenewDue(ctx context.Context, now time.Time) (domain.RenewDueResult, error) {
	now = now.UTC()
	companyIDs, err := s.repo.ListDueCompanyIDs(ctx, s.db, now, renewDueBatchSize)
	if err != nil {
		return domain.RenewDueResult{}, db.Wrap(err)
	}

	result := domain.RenewDueResult{Renewed: []snowflake.ID{}}
	for _, companyID := range companyIDs {
		_, err := s.renewCompany(ctx, companyID, "scheduled", &now)
		if errors.Is(err, domain.ErrNotDue) {
			s.log.Info("service level no longer due, skipping", zap.String("company_id", companyID.String()))
			result.Skipped = append(result.Skipped, companyID)
			continue
		}
		if err != nil {
			s.log.Warn("scheduled renewal failed",
				zap.String("company_id", companyID.String()),
				zap.Error(err),
			)
			result.Failed = append(result.Failed, companyID)
			continue
		}
		result.Renewed = append(result.Renewed, companyID)
	}

	s.log.Info("renewal run finished",
		zap.Int("renewed", len(result.Renewed)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// renewCompany renews under the row lock. With dueBy set, the due date is
// checked again after locking so overlapping runs renew a row once.
func (s *Service) renewCompany(ctx context.Context, companyID snowflake.ID, trigger string, dueBy *time.Time) (domain.ServiceLevel, error) {
	var renewed domain.ServiceLevel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sl, err := s.repo.FindByCompanyForUpdate(ctx, tx, companyID)
		if err != nil {
			return db.Wrap(err)
		}
		if sl == nil {
			return domain.ErrServiceLevelNotFound
		}
		if dueBy != nil && (sl.NextRenewalAt == nil || sl.NextRenewalAt.After(*dueBy)) {
			return domain.ErrNotDue
		}

		now := s.clock.Now().UTC()
		previousRemaining := sl.RemainingMinutes
		next := domain.Renew(*sl, now)
		if err := s.repo.SaveRenewal(ctx, tx, &next, now); err != nil {
			return db.Wrap(err)
		}

		targetID := next.ID.String()
		if err := s.auditSvc.AuditLogTx(ctx, tx, "service_level.renewed", "service_level", &targetID, map[string]any{
			"company_id":         companyID.String(),
			"trigger":            trigger,
			"previous_remaining": previousRemaining,
			"remaining_minutes":  next.RemainingMinutes,
			"next_renewal_at":    next.NextRenewalAt,
		}); err != nil {
			return err
		}

		renewed = next
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrServiceLevelNotFound) && !errors.Is(err, domain.ErrNotDue) {
			s.log.Error("renewal failed", zap.String("company_id", companyID.String()), zap.Error(err))
		}
		return domain.ServiceLevel{}, err
	}
	return renewed, nil
}
