package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/ticket/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, ticket *domain.Ticket) error {
	return tx.WithContext(ctx).Create(ticket).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Ticket, error) {
	return r.find(db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Ticket, error) {
	return r.find(tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) find(stmt *gorm.DB, id snowflake.ID) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := stmt.Where("id = ?", id).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, ticket *domain.Ticket) error {
	return tx.WithContext(ctx).Model(&domain.Ticket{}).
		Where("id = ?", ticket.ID).
		Updates(map[string]any{
			"status":     ticket.Status,
			"updated_at": ticket.UpdatedAt,
		}).Error
}

func (r *repo) UpdatePriority(ctx context.Context, tx *gorm.DB, ticket *domain.Ticket) error {
	return tx.WithContext(ctx).Model(&domain.Ticket{}).
		Where("id = ?", ticket.ID).
		Updates(map[string]any{
			"priority":   ticket.Priority,
			"updated_at": ticket.UpdatedAt,
		}).Error
}

// NextTicketNumber is not locked; callers retry on a unique violation.
func (r *repo) NextTicketNumber(ctx context.Context, tx *gorm.DB) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(ticket_number), 0) + 1 FROM tickets`,
	).Scan(&next).Error
	return next, err
}

// NextSequence must run while the ticket row is locked.
func (r *repo) NextSequence(ctx context.Context, tx *gorm.DB, ticketID snowflake.ID) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM ticket_messages WHERE ticket_id = ?`,
		ticketID,
	).Scan(&next).Error
	return next, err
}

func (r *repo) InsertMessage(ctx context.Context, tx *gorm.DB, msg *domain.Message) error {
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *repo) ListMessages(ctx context.Context, db *gorm.DB, ticketID snowflake.ID, includeInternal bool) ([]domain.Message, error) {
	stmt := db.WithContext(ctx).Where("ticket_id = ?", ticketID)
	if !includeInternal {
		stmt = stmt.Where("is_internal_note = ?", false)
	}
	var msgs []domain.Message
	if err := stmt.Order("sequence asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
