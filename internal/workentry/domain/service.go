package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateRequest struct {
	TicketID             snowflake.ID
	Minutes              int
	Description          string
	HourlyRate           *decimal.Decimal
	IsFromIncludedVolume bool
}

type UpdateRequest struct {
	EntryID              snowflake.ID
	Minutes              int
	Description          string
	HourlyRate           *decimal.Decimal
	IsFromIncludedVolume bool
}

// Result is a mutated entry plus the company's balance after the mutation.
// RemainingMinutes is nil when the company has no service level.
type Result struct {
	Entry            WorkEntry `json:"entry"`
	RemainingMinutes *int      `json:"remaining_minutes"`
}

type DeleteResult struct {
	EntryID          snowflake.ID `json:"entry_id"`
	RemainingMinutes *int         `json:"remaining_minutes"`
}

type MarkBilledResult struct {
	Billed  []snowflake.ID `json:"billed"`
	Skipped []snowflake.ID `json:"skipped"`
}

type UnbilledSummary struct {
	CompanyID   snowflake.ID    `json:"company_id"`
	Entries     []WorkEntry     `json:"entries"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Result, error)
	Update(ctx context.Context, req UpdateRequest) (Result, error)
	Delete(ctx context.Context, entryID snowflake.ID) (DeleteResult, error)
	// MarkBilled bills the unbilled entries among ids. Already billed and
	// unknown ids are reported as skipped.
	MarkBilled(ctx context.Context, ids []snowflake.ID) (MarkBilledResult, error)
	Get(ctx context.Context, entryID snowflake.ID) (WorkEntry, error)
	ListByTicket(ctx context.Context, ticketID snowflake.ID) ([]WorkEntry, error)
	ListUnbilled(ctx context.Context, companyID snowflake.ID) (UnbilledSummary, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *WorkEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WorkEntry, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*WorkEntry, error)
	// UpdateUnbilled rewrites an entry only while it is unbilled; false means
	// the row was billed or removed concurrently.
	UpdateUnbilled(ctx context.Context, tx *gorm.DB, entry *WorkEntry) (bool, error)
	DeleteUnbilled(ctx context.Context, tx *gorm.DB, id snowflake.ID) (bool, error)
	ListByTicket(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) ([]WorkEntry, error)
	ListUnbilledBillable(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]WorkEntry, error)
	// TicketCompanyID resolves the owning company; found is false for unknown tickets.
	TicketCompanyID(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) (snowflake.ID, bool, error)
	CompanyIDsForEntries(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]snowflake.ID, error)
	UnbilledIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]snowflake.ID, error)
	MarkBilled(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, billedAt time.Time) (int64, error)
}

// InsufficientVolumeError reports a request for more included minutes than
// the balance allows. Available is what this request could have consumed.
type InsufficientVolumeError struct {
	Available int
	Required  int
}

func (e *InsufficientVolumeError) Error() string {
	return fmt.Sprintf("insufficient_volume: available %d, required %d", e.Available, e.Required)
}

var (
	ErrInvalidMinutes     = errors.New("invalid_minutes")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidHourlyRate  = errors.New("invalid_hourly_rate")
	ErrInvalidTicket      = errors.New("invalid_ticket")
	ErrInvalidEntry       = errors.New("invalid_entry")
	ErrInvalidEntryIDs    = errors.New("invalid_entry_ids")
	ErrInvalidCompany     = errors.New("invalid_company")

	ErrNotFound             = errors.New("work_entry_not_found")
	ErrTicketNotFound       = errors.New("ticket_not_found")
	ErrServiceLevelNotFound = errors.New("service_level_not_found")
	ErrAlreadyBilled        = errors.New("already_billed")
	ErrForbidden            = errors.New("forbidden")
)
