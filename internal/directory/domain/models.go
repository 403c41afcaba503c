package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Company struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Company) TableName() string { return "companies" }

// User is a portal participant. Admins have no company.
type User struct {
	ID                  snowflake.ID  `json:"id" gorm:"primaryKey"`
	CompanyID           *snowflake.ID `json:"company_id,omitempty" gorm:"index"`
	Role                string        `json:"role" gorm:"type:text;not null"`
	Name                string        `json:"name" gorm:"type:text;not null"`
	Email               string        `json:"email" gorm:"type:text;not null"`
	NotifyLowVolume     bool          `json:"notify_low_volume" gorm:"not null;default:false"`
	NotifyTicketUpdates bool          `json:"notify_ticket_updates" gorm:"not null;default:true"`
	CreatedAt           time.Time     `json:"created_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Preference selects the opt-in flag a recipient query filters on.
type Preference string

const (
	PreferenceLowVolume     Preference = "low_volume"
	PreferenceTicketUpdates Preference = "ticket_updates"
)

type RecipientFilter struct {
	CompanyID  snowflake.ID
	Role       string
	Preference Preference
}

type Repository interface {
	FindCompany(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Company, error)
	ListUsers(ctx context.Context, db *gorm.DB, filter RecipientFilter) ([]User, error)
}

type Service interface {
	GetCompany(ctx context.Context, id snowflake.ID) (Company, error)
	// ListAdmins returns every ADMIN user.
	ListAdmins(ctx context.Context) ([]User, error)
	// ListCompanyRecipients returns users of the company that opted into pref.
	// An empty role matches every role.
	ListCompanyRecipients(ctx context.Context, companyID snowflake.ID, role string, pref Preference) ([]User, error)
}

var (
	ErrCompanyNotFound   = errors.New("company_not_found")
	ErrInvalidCompany    = errors.New("invalid_company")
	ErrInvalidPreference = errors.New("invalid_preference")
)
