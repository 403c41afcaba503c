package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupOutbox(t *testing.T) (*Outbox, *Dispatcher, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&DomainEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	outbox := NewOutbox(OutboxParams{GenID: node, Clock: fake})
	dispatcher := NewDispatcher(DispatcherParams{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  fake,
		Config: config.Config{},
	})
	return outbox, dispatcher, conn
}

func publish(t *testing.T, conn *gorm.DB, outbox *Outbox, evt Event) Event {
	t.Helper()
	var published Event
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		published, err = outbox.PublishTx(context.Background(), tx, evt)
		return err
	}))
	return published
}

func TestDispatchMarksEventPublished(t *testing.T) {
	outbox, dispatcher, conn := setupOutbox(t)

	var calls atomic.Int32
	dispatcher.Register(EventVolumeLow, func(ctx context.Context, evt Event) error {
		calls.Add(1)
		var payload struct {
			RemainingMinutes int `json:"remainingMinutes"`
		}
		if err := Decode(evt, &payload); err != nil {
			return err
		}
		if payload.RemainingMinutes != 45 {
			return errors.New("unexpected payload")
		}
		return nil
	})

	evt := publish(t, conn, outbox, Event{
		Type:        EventVolumeLow,
		AggregateID: 7,
		Payload:     map[string]any{"remainingMinutes": 45},
		DedupeKey:   "volume_low:7:1",
	})
	require.NotZero(t, evt.ID)

	dispatcher.Dispatch(context.Background(), evt)
	dispatcher.Wait()

	assert.EqualValues(t, 1, calls.Load())
	var row DomainEvent
	require.NoError(t, conn.First(&row, "id = ?", evt.ID).Error)
	assert.NotNil(t, row.PublishedAt)
	assert.Nil(t, row.LastError)
}

func TestDispatchRecordsHandlerFailureWithoutRetry(t *testing.T) {
	outbox, dispatcher, conn := setupOutbox(t)

	var calls atomic.Int32
	dispatcher.Register(EventTicketStatusChanged, func(ctx context.Context, evt Event) error {
		calls.Add(1)
		return errors.New("smtp down")
	})
	dispatcher.Register(EventTicketStatusChanged, func(ctx context.Context, evt Event) error {
		panic("boom")
	})

	evt := publish(t, conn, outbox, Event{Type: EventTicketStatusChanged, AggregateID: 3, DedupeKey: "ticket_status:3:1"})
	dispatcher.Dispatch(context.Background(), evt)
	dispatcher.Wait()

	assert.EqualValues(t, 1, calls.Load())
	var row DomainEvent
	require.NoError(t, conn.First(&row, "id = ?", evt.ID).Error)
	assert.Nil(t, row.PublishedAt)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "smtp down")
	assert.Contains(t, *row.LastError, "handler panic")
}

func TestPublishTxSkipsDuplicateDedupeKey(t *testing.T) {
	outbox, _, conn := setupOutbox(t)

	first := publish(t, conn, outbox, Event{Type: EventWorkEntryBilled, AggregateID: 1, DedupeKey: "work_entry_billed:1"})
	second := publish(t, conn, outbox, Event{Type: EventWorkEntryBilled, AggregateID: 1, DedupeKey: "work_entry_billed:1"})

	assert.NotZero(t, first.ID)
	assert.Zero(t, second.ID)

	var count int64
	require.NoError(t, conn.Model(&DomainEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPublishTxValidatesInput(t *testing.T) {
	outbox, _, conn := setupOutbox(t)

	_, err := outbox.PublishTx(context.Background(), conn, Event{DedupeKey: "x"})
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = outbox.PublishTx(context.Background(), conn, Event{Type: EventVolumeLow})
	assert.ErrorIs(t, err, ErrInvalidDedupeKey)
}

func TestDispatchIgnoresCanceledRequestContext(t *testing.T) {
	outbox, dispatcher, conn := setupOutbox(t)

	delivered := make(chan struct{}, 1)
	dispatcher.Register(EventTicketMessagePosted, func(ctx context.Context, evt Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered <- struct{}{}
		return nil
	})

	evt := publish(t, conn, outbox, Event{Type: EventTicketMessagePosted, AggregateID: 9, DedupeKey: "ticket_message:9"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatcher.Dispatch(ctx, evt)
	dispatcher.Wait()

	select {
	case <-delivered:
	default:
		t.Fatal("expected delivery despite canceled request context")
	}
}
