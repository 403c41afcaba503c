package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/notification/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, recipientID snowflake.ID, title, message string, relatedID *snowflake.ID) (domain.Notification, error) {
	if recipientID == 0 {
		return domain.Notification{}, domain.ErrInvalidRecipient
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Notification{}, domain.ErrInvalidTitle
	}

	n := domain.Notification{
		ID:          s.genID.Generate(),
		RecipientID: recipientID,
		Title:       title,
		Message:     strings.TrimSpace(message),
		RelatedID:   relatedID,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, &n); err != nil {
		return domain.Notification{}, db.Wrap(err)
	}
	return n, nil
}
