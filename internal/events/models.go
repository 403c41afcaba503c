package events

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventVolumeLow             = "volume.low"
	EventTicketStatusChanged   = "ticket.status_changed"
	EventTicketPriorityChanged = "ticket.priority_changed"
	EventTicketMessagePosted   = "ticket.message_posted"
	EventWorkEntryBilled       = "work_entry.billed"
)

// Event is a domain fact recorded in the outbox.
type Event struct {
	ID          snowflake.ID
	Type        string
	AggregateID snowflake.ID
	Payload     map[string]any
	DedupeKey   string
	OccurredAt  time.Time
}

// DomainEvent is the outbox row.
type DomainEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventType   string            `gorm:"type:text;not null;index"`
	AggregateID snowflake.ID      `gorm:"not null;index"`
	Payload     datatypes.JSONMap `gorm:"not null"`
	DedupeKey   string            `gorm:"type:text;not null;uniqueIndex"`
	PublishedAt *time.Time
	LastError   *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (DomainEvent) TableName() string { return "domain_events" }

// ToPayload converts a typed payload into the JSON map stored in the outbox.
func ToPayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode fills target from the event payload.
func Decode(evt Event, target any) error {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
