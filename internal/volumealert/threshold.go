package volumealert

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supportdesk/internal/config"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
)

// ShouldWarn decides whether a balance change from previous to current
// raises a low-volume warning. Reaching zero is never a warning.
func ShouldWarn(previous, current int, settings config.VolumeSettings) bool {
	threshold := settings.WarningThresholdMinutes
	if current <= 0 || current > threshold || current >= previous {
		return false
	}
	if settings.NotifyMode == config.NotifyModeAlways {
		return true
	}
	return previous > threshold
}

// Payload is the VolumeLow event body. Field names double as email
// template variables.
type Payload struct {
	CompanyID        snowflake.ID `json:"companyId"`
	CompanyName      string       `json:"companyName"`
	ServiceLevelID   snowflake.ID `json:"serviceLevelId"`
	ServiceLevelName string       `json:"serviceLevelName"`
	RemainingMinutes int          `json:"remainingMinutes"`
	TotalMinutes     int          `json:"totalMinutes"`
	UsagePercent     float64      `json:"usagePercent"`
	NextRenewalAt    *time.Time   `json:"nextRenewalAt,omitempty"`
	HourlyRate       string       `json:"hourlyRate"`
}

func BuildPayload(companyName string, sl sldomain.ServiceLevel) Payload {
	return Payload{
		CompanyID:        sl.CompanyID,
		CompanyName:      companyName,
		ServiceLevelID:   sl.ID,
		ServiceLevelName: sl.Name,
		RemainingMinutes: sl.RemainingMinutes,
		TotalMinutes:     sl.TimeVolumeMinutes,
		UsagePercent:     UsagePercent(sl.UsedMinutes(), sl.TimeVolumeMinutes),
		NextRenewalAt:    sl.NextRenewalAt,
		HourlyRate:       sl.HourlyRate.StringFixed(2),
	}
}

// UsagePercent is used/total as a percentage with one decimal place.
func UsagePercent(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(used)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(1).
		InexactFloat64()
}
