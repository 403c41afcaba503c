package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Notification is an in-app notice for one user.
type Notification struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	RecipientID snowflake.ID  `json:"recipient_id" gorm:"not null;index"`
	Title       string        `json:"title" gorm:"type:text;not null"`
	Message     string        `json:"message" gorm:"type:text;not null"`
	RelatedID   *snowflake.ID `json:"related_id,omitempty"`
	IsRead      bool          `json:"is_read" gorm:"not null;default:false"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
}

type Service interface {
	Create(ctx context.Context, recipientID snowflake.ID, title, message string, relatedID *snowflake.ID) (Notification, error)
}

var (
	ErrInvalidRecipient = errors.New("invalid_recipient")
	ErrInvalidTitle     = errors.New("invalid_title")
)
