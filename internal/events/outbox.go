package events

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
)

type OutboxParams struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{genID: p.GenID, clock: p.Clock}
}

// PublishTx records evt in the caller's transaction. The returned event
// carries the assigned ID; a zero ID means an event with the same dedupe key
// already exists and nothing was written.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, evt Event) (Event, error) {
	evt.Type = strings.TrimSpace(evt.Type)
	if evt.Type == "" {
		return Event{}, ErrInvalidEventType
	}
	evt.DedupeKey = strings.TrimSpace(evt.DedupeKey)
	if evt.DedupeKey == "" {
		return Event{}, ErrInvalidDedupeKey
	}

	evt.ID = o.genID.Generate()
	evt.OccurredAt = o.clock.Now().UTC()
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	row := DomainEvent{
		ID:          evt.ID,
		EventType:   evt.Type,
		AggregateID: evt.AggregateID,
		Payload:     datatypes.JSONMap(payload),
		DedupeKey:   evt.DedupeKey,
		CreatedAt:   evt.OccurredAt,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return Event{}, db.Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return Event{}, nil
	}
	return evt, nil
}
