package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	auditrepo "github.com/smallbiznis/supportdesk/internal/audit/repository"
	auditservice "github.com/smallbiznis/supportdesk/internal/audit/service"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/config"
	"github.com/smallbiznis/supportdesk/internal/events"
	"github.com/smallbiznis/supportdesk/internal/ticket/domain"
	"github.com/smallbiznis/supportdesk/internal/ticket/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testCompanyID = snowflake.ID(10)

type fixture struct {
	svc        domain.Service
	db         *gorm.DB
	dispatcher *events.Dispatcher
}

func setup(t *testing.T) fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(
		&domain.Ticket{},
		&domain.Message{},
		&events.DomainEvent{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 2, 8, 30, 0, 0, time.UTC))

	dispatcher := events.NewDispatcher(events.DispatcherParams{
		DB: conn, Log: zap.NewNop(), Clock: fake, Config: config.Config{},
	})
	svc := NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Repo:       repository.Provide(),
		Outbox:     events.NewOutbox(events.OutboxParams{GenID: node, Clock: fake}),
		Dispatcher: dispatcher,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: auditrepo.Provide(),
		}),
	})
	t.Cleanup(dispatcher.Wait)
	return fixture{svc: svc, db: conn, dispatcher: dispatcher}
}

func adminCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{UserID: 1, Role: actorcontext.RoleAdmin})
}

func clientCtx(companyID snowflake.ID) context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{UserID: 2, Role: actorcontext.RoleClient, CompanyID: companyID})
}

func (f fixture) createTicket(t *testing.T, status domain.Status) domain.Ticket {
	t.Helper()
	ticket, err := f.svc.Create(clientCtx(testCompanyID), domain.CreateRequest{
		Subject: "VPN down",
		Content: "Cannot connect since this morning",
	})
	require.NoError(t, err)
	if status != domain.StatusOpen {
		require.NoError(t, f.db.Model(&domain.Ticket{}).Where("id = ?", ticket.ID).Update("status", status).Error)
		ticket.Status = status
	}
	return ticket
}

func (f fixture) messages(t *testing.T, ticketID snowflake.ID) []domain.Message {
	t.Helper()
	var msgs []domain.Message
	require.NoError(t, f.db.Where("ticket_id = ?", ticketID).Order("sequence asc").Find(&msgs).Error)
	return msgs
}

func TestCreateAssignsIncreasingTicketNumbers(t *testing.T) {
	f := setup(t)

	first := f.createTicket(t, domain.StatusOpen)
	second := f.createTicket(t, domain.StatusOpen)
	assert.Equal(t, int64(1), first.TicketNumber)
	assert.Equal(t, int64(2), second.TicketNumber)
	assert.Equal(t, testCompanyID, first.CompanyID)
	assert.Equal(t, domain.PriorityMedium, first.Priority)

	msgs := f.messages(t, first.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].Sequence)

	_, err := f.svc.Create(clientCtx(testCompanyID), domain.CreateRequest{CompanyID: 11, Subject: "x", Content: "y"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Create(adminCtx(), domain.CreateRequest{Subject: "x", Content: "y"})
	assert.ErrorIs(t, err, domain.ErrInvalidCompany)
}

func TestClientReplyResumesWorkWithSystemMessageFirst(t *testing.T) {
	f := setup(t)
	ticket := f.createTicket(t, domain.StatusWaitingForCustomer)

	result, err := f.svc.PostMessage(clientCtx(testCompanyID), domain.PostMessageRequest{
		TicketID: ticket.ID,
		Content:  "Here are the logs",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, result.Ticket.Status)
	require.NotNil(t, result.SystemMessage)
	assert.Less(t, result.SystemMessage.Sequence, result.Message.Sequence)

	msgs := f.messages(t, ticket.ID)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[1].IsSystemMessage)
	assert.Equal(t, "Status changed from WAITING_FOR_CUSTOMER to IN_PROGRESS", msgs[1].Content)
	assert.Equal(t, "Here are the logs", msgs[2].Content)

	var stored domain.Ticket
	require.NoError(t, f.db.First(&stored, "id = ?", ticket.ID).Error)
	assert.Equal(t, domain.StatusInProgress, stored.Status)

	// An internal note on the same ticket leaves status and trail alone.
	note, err := f.svc.PostMessage(adminCtx(), domain.PostMessageRequest{
		TicketID:       ticket.ID,
		Content:        "Escalating to network team",
		IsInternalNote: true,
	})
	require.NoError(t, err)
	assert.Nil(t, note.SystemMessage)
	assert.Equal(t, domain.StatusInProgress, note.Ticket.Status)

	msgs = f.messages(t, ticket.ID)
	require.Len(t, msgs, 4)
	systemCount := 0
	for _, msg := range msgs {
		if msg.IsSystemMessage {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount)

	var changes int64
	require.NoError(t, f.db.Model(&events.DomainEvent{}).Where("event_type = ?", events.EventTicketStatusChanged).Count(&changes).Error)
	assert.EqualValues(t, 1, changes)
}

func TestAdminReplyWaitsForCustomer(t *testing.T) {
	f := setup(t)
	ticket := f.createTicket(t, domain.StatusInProgress)

	result, err := f.svc.PostMessage(adminCtx(), domain.PostMessageRequest{TicketID: ticket.ID, Content: "Please reboot"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingForCustomer, result.Ticket.Status)
	require.NotNil(t, result.SystemMessage)
}

func TestClientCannotWriteClosedTicketsOrNotes(t *testing.T) {
	f := setup(t)
	ticket := f.createTicket(t, domain.StatusClosed)

	_, err := f.svc.PostMessage(clientCtx(testCompanyID), domain.PostMessageRequest{TicketID: ticket.ID, Content: "Reopen please"})
	assert.ErrorIs(t, err, domain.ErrTicketClosed)

	_, err = f.svc.PostMessage(clientCtx(testCompanyID), domain.PostMessageRequest{TicketID: ticket.ID, Content: "psst", IsInternalNote: true})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.PostMessage(clientCtx(11), domain.PostMessageRequest{TicketID: ticket.ID, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// Admins may still write to closed tickets.
	_, err = f.svc.PostMessage(adminCtx(), domain.PostMessageRequest{TicketID: ticket.ID, Content: "Closing note"})
	require.NoError(t, err)
	assert.Len(t, f.messages(t, ticket.ID), 2)
}

func TestListMessagesHidesInternalNotesFromClients(t *testing.T) {
	f := setup(t)
	ticket := f.createTicket(t, domain.StatusOpen)

	_, err := f.svc.PostMessage(adminCtx(), domain.PostMessageRequest{TicketID: ticket.ID, Content: "Customer is on legacy plan", IsInternalNote: true})
	require.NoError(t, err)

	clientView, err := f.svc.ListMessages(clientCtx(testCompanyID), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, clientView, 1)

	adminView, err := f.svc.ListMessages(adminCtx(), ticket.ID)
	require.NoError(t, err)
	assert.Len(t, adminView, 2)
}

func TestChangeStatusAndPriorityWriteSystemMessages(t *testing.T) {
	f := setup(t)
	ticket := f.createTicket(t, domain.StatusOpen)

	_, err := f.svc.ChangeStatus(clientCtx(testCompanyID), ticket.ID, domain.StatusClosed)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.ChangeStatus(adminCtx(), ticket.ID, "RESOLVED")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	changed, err := f.svc.ChangeStatus(adminCtx(), ticket.ID, domain.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, changed.Ticket.Status)
	require.NotNil(t, changed.SystemMessage)
	assert.Equal(t, "Status changed from OPEN to CLOSED", changed.SystemMessage.Content)

	reasserted, err := f.svc.ChangeStatus(adminCtx(), ticket.ID, domain.StatusClosed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, reasserted.Ticket.Status)
	require.NotNil(t, reasserted.SystemMessage)
	assert.Equal(t, "Status set to CLOSED", reasserted.SystemMessage.Content)

	priority, err := f.svc.ChangePriority(adminCtx(), ticket.ID, domain.PriorityUrgent)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityUrgent, priority.Ticket.Priority)
	require.NotNil(t, priority.SystemMessage)
	assert.Equal(t, "Priority changed from MEDIUM to URGENT", priority.SystemMessage.Content)

	samePriority, err := f.svc.ChangePriority(adminCtx(), ticket.ID, domain.PriorityUrgent)
	require.NoError(t, err)
	require.NotNil(t, samePriority.SystemMessage)
	assert.Equal(t, "Priority set to URGENT", samePriority.SystemMessage.Content)

	msgs := f.messages(t, ticket.ID)
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		assert.EqualValues(t, i+1, msg.Sequence)
	}

	var actions []string
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Order("id").Pluck("action", &actions).Error)
	assert.Equal(t, []string{
		"ticket.created",
		"ticket.status_changed",
		"ticket.status_changed",
		"ticket.priority_changed",
		"ticket.priority_changed",
	}, actions)

	var announced int64
	require.NoError(t, f.db.Model(&events.DomainEvent{}).
		Where("event_type IN ?", []string{events.EventTicketStatusChanged, events.EventTicketPriorityChanged}).
		Count(&announced).Error)
	assert.EqualValues(t, 2, announced, "re-asserted values are not announced")
}
