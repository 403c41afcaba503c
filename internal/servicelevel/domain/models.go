package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type RenewalType string

const (
	RenewalMonthly RenewalType = "MONTHLY"
	RenewalYearly  RenewalType = "YEARLY"
)

// ServiceLevel is a company's prepaid support contract.
// RemainingMinutes stays within [0, TimeVolumeMinutes]; Version is bumped on
// every balance write. RenewalDay is the contract's day of month, 0 until the
// first renewal records it.
type ServiceLevel struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	CompanyID         snowflake.ID    `json:"company_id" gorm:"not null;uniqueIndex"`
	Name              string          `json:"name" gorm:"type:text;not null"`
	TimeVolumeMinutes int             `json:"time_volume_minutes" gorm:"not null"`
	RemainingMinutes  int             `json:"remaining_minutes" gorm:"not null"`
	HourlyRate        decimal.Decimal `json:"hourly_rate" gorm:"type:numeric(12,2);not null"`
	RenewalType       RenewalType     `json:"renewal_type" gorm:"type:text;not null"`
	LastRenewedAt     *time.Time      `json:"last_renewed_at,omitempty"`
	NextRenewalAt     *time.Time      `json:"next_renewal_at,omitempty" gorm:"index"`
	RenewalDay        int             `json:"renewal_day" gorm:"not null;default:0"`
	Version           int64           `json:"version" gorm:"not null;default:0"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"not null"`
}

func (ServiceLevel) TableName() string { return "service_levels" }

// UsedMinutes is the consumed part of the contracted volume.
func (s ServiceLevel) UsedMinutes() int {
	used := s.TimeVolumeMinutes - s.RemainingMinutes
	if used < 0 {
		return 0
	}
	return used
}

// Credit adds refunded minutes without exceeding the contracted volume.
func (s *ServiceLevel) Credit(minutes int) {
	s.RemainingMinutes += minutes
	if s.RemainingMinutes > s.TimeVolumeMinutes {
		s.RemainingMinutes = s.TimeVolumeMinutes
	}
}
