package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// WorkEntry is time logged against a ticket. Included entries draw from the
// company's service level and carry no rate or amount; billable entries carry
// both. Billed entries are immutable.
type WorkEntry struct {
	ID                   snowflake.ID        `json:"id" gorm:"primaryKey"`
	TicketID             snowflake.ID        `json:"ticket_id" gorm:"not null;index"`
	Minutes              int                 `json:"minutes" gorm:"not null"`
	RoundedMinutes       int                 `json:"rounded_minutes" gorm:"not null"`
	Description          string              `json:"description" gorm:"type:text;not null"`
	HourlyRate           decimal.NullDecimal `json:"hourly_rate" gorm:"type:numeric(12,2)"`
	TotalAmount          decimal.NullDecimal `json:"total_amount" gorm:"type:numeric(12,2)"`
	IsFromIncludedVolume bool                `json:"is_from_included_volume" gorm:"not null"`
	IsBilled             bool                `json:"is_billed" gorm:"not null;index"`
	BilledAt             *time.Time          `json:"billed_at,omitempty"`
	CreatedBy            snowflake.ID        `json:"created_by" gorm:"not null"`
	CreatedAt            time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time           `json:"updated_at" gorm:"not null"`
}

func (WorkEntry) TableName() string { return "work_entries" }
