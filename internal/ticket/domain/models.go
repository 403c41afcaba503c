package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusOpen               Status = "OPEN"
	StatusInProgress         Status = "IN_PROGRESS"
	StatusWaitingForCustomer Status = "WAITING_FOR_CUSTOMER"
	StatusClosed             Status = "CLOSED"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusOpen:
		return StatusOpen, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusWaitingForCustomer:
		return StatusWaitingForCustomer, true
	case StatusClosed:
		return StatusClosed, true
	default:
		return "", false
	}
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.ToUpper(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityUrgent:
		return PriorityUrgent, true
	default:
		return "", false
	}
}

type Ticket struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	CompanyID    snowflake.ID `json:"company_id" gorm:"not null;index"`
	TicketNumber int64        `json:"ticket_number" gorm:"not null;uniqueIndex"`
	Subject      string       `json:"subject" gorm:"type:text;not null"`
	Status       Status       `json:"status" gorm:"type:text;not null"`
	Priority     Priority     `json:"priority" gorm:"type:text;not null"`
	CreatedBy    snowflake.ID `json:"created_by" gorm:"not null"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null"`
}

func (Ticket) TableName() string { return "tickets" }

// Message is one entry of a ticket conversation. Sequence orders messages
// within a ticket and is strictly increasing.
type Message struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TicketID        snowflake.ID `json:"ticket_id" gorm:"not null;uniqueIndex:ux_ticket_messages_sequence,priority:1"`
	Sequence        int64        `json:"sequence" gorm:"not null;uniqueIndex:ux_ticket_messages_sequence,priority:2"`
	AuthorID        snowflake.ID `json:"author_id" gorm:"not null"`
	AuthorRole      string       `json:"author_role" gorm:"type:text;not null"`
	Content         string       `json:"content" gorm:"type:text;not null"`
	IsInternalNote  bool         `json:"is_internal_note" gorm:"not null"`
	IsSystemMessage bool         `json:"is_system_message" gorm:"not null"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (Message) TableName() string { return "ticket_messages" }
