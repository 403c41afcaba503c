package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateRequest struct {
	CompanyID snowflake.ID
	Subject   string
	Priority  Priority
	Content   string
}

type PostMessageRequest struct {
	TicketID       snowflake.ID
	Content        string
	IsInternalNote bool
}

// PostMessageResult holds the stored message and, when the post moved the
// ticket, the SYSTEM message written before it.
type PostMessageResult struct {
	Ticket        Ticket   `json:"ticket"`
	Message       Message  `json:"message"`
	SystemMessage *Message `json:"system_message,omitempty"`
}

// ChangeResult is a ticket after an explicit admin change plus the SYSTEM
// message recording it. SystemMessage is nil when the value was unchanged.
type ChangeResult struct {
	Ticket        Ticket   `json:"ticket"`
	SystemMessage *Message `json:"system_message,omitempty"`
}

// StatusChangedPayload is carried by ticket.status_changed events.
type StatusChangedPayload struct {
	TicketID     string `json:"ticketId"`
	TicketNumber int64  `json:"ticketNumber"`
	CompanyID    string `json:"companyId"`
	Subject      string `json:"subject"`
	From         Status `json:"from"`
	To           Status `json:"to"`
	ActorID      string `json:"actorId"`
	ActorRole    string `json:"actorRole"`
}

// PriorityChangedPayload is carried by ticket.priority_changed events.
type PriorityChangedPayload struct {
	TicketID     string   `json:"ticketId"`
	TicketNumber int64    `json:"ticketNumber"`
	CompanyID    string   `json:"companyId"`
	From         Priority `json:"from"`
	To           Priority `json:"to"`
	ActorID      string   `json:"actorId"`
}

// MessagePostedPayload is carried by ticket.message_posted events.
type MessagePostedPayload struct {
	TicketID       string `json:"ticketId"`
	TicketNumber   int64  `json:"ticketNumber"`
	CompanyID      string `json:"companyId"`
	Subject        string `json:"subject"`
	MessageID      string `json:"messageId"`
	AuthorID       string `json:"authorId"`
	AuthorRole     string `json:"authorRole"`
	Content        string `json:"content"`
	IsInternalNote bool   `json:"isInternalNote"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Ticket, error)
	Get(ctx context.Context, ticketID snowflake.ID) (Ticket, error)
	// ListMessages returns the conversation in sequence order. Internal notes
	// are omitted for CLIENT readers.
	ListMessages(ctx context.Context, ticketID snowflake.ID) ([]Message, error)
	PostMessage(ctx context.Context, req PostMessageRequest) (PostMessageResult, error)
	ChangeStatus(ctx context.Context, ticketID snowflake.ID, status Status) (ChangeResult, error)
	ChangePriority(ctx context.Context, ticketID snowflake.ID, priority Priority) (ChangeResult, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, ticket *Ticket) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Ticket, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Ticket, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, ticket *Ticket) error
	UpdatePriority(ctx context.Context, tx *gorm.DB, ticket *Ticket) error
	NextTicketNumber(ctx context.Context, tx *gorm.DB) (int64, error)
	NextSequence(ctx context.Context, tx *gorm.DB, ticketID snowflake.ID) (int64, error)
	InsertMessage(ctx context.Context, tx *gorm.DB, msg *Message) error
	ListMessages(ctx context.Context, db *gorm.DB, ticketID snowflake.ID, includeInternal bool) ([]Message, error)
}

var (
	ErrInvalidTicket   = errors.New("invalid_ticket")
	ErrInvalidCompany  = errors.New("invalid_company")
	ErrInvalidSubject  = errors.New("invalid_subject")
	ErrInvalidContent  = errors.New("invalid_content")
	ErrInvalidStatus   = errors.New("invalid_status")
	ErrInvalidPriority = errors.New("invalid_priority")

	ErrTicketNotFound = errors.New("ticket_not_found")
	ErrTicketClosed   = errors.New("ticket_closed")
	ErrForbidden      = errors.New("forbidden")
)
