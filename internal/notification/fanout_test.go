package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supportdesk/internal/clock"
	directorydomain "github.com/smallbiznis/supportdesk/internal/directory/domain"
	directoryrepo "github.com/smallbiznis/supportdesk/internal/directory/repository"
	directoryservice "github.com/smallbiznis/supportdesk/internal/directory/service"
	"github.com/smallbiznis/supportdesk/internal/events"
	"github.com/smallbiznis/supportdesk/internal/notification/domain"
	"github.com/smallbiznis/supportdesk/internal/notification/repository"
	"github.com/smallbiznis/supportdesk/internal/notification/service"
	"github.com/smallbiznis/supportdesk/internal/providers/email"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	ticketdomain "github.com/smallbiznis/supportdesk/internal/ticket/domain"
	"github.com/smallbiznis/supportdesk/internal/volumealert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) SendTemplate(ctx context.Context, to []string, templateName string, variables map[string]any) error {
	args := m.Called(ctx, to, templateName, variables)
	return args.Error(0)
}

const companyID = snowflake.ID(10)

func setupFanout(t *testing.T, mailer email.Provider) (*Fanout, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&directorydomain.Company{}, &directorydomain.User{}, &domain.Notification{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))

	cid := companyID
	now := fake.Now()
	require.NoError(t, conn.Create(&directorydomain.Company{ID: companyID, Name: "Acme", CreatedAt: now}).Error)
	require.NoError(t, conn.Create([]directorydomain.User{
		{ID: 1, Role: "ADMIN", Name: "Ada", Email: "ada@provider.test", CreatedAt: now},
		{ID: 3, Role: "ADMIN", Name: "Bob", Email: "bob@provider.test", CreatedAt: now},
		{ID: 2, CompanyID: &cid, Role: "CLIENT", Name: "Cleo", Email: "cleo@acme.test", NotifyLowVolume: true, NotifyTicketUpdates: true, CreatedAt: now},
		{ID: 4, CompanyID: &cid, Role: "CLIENT", Name: "Dan", Email: "dan@acme.test", NotifyLowVolume: false, NotifyTicketUpdates: true, CreatedAt: now},
	}).Error)
	// gorm skips zero values that have a default, so opt-outs are set explicitly.
	require.NoError(t, conn.Model(&directorydomain.User{}).Where("id = ?", 2).Update("notify_ticket_updates", false).Error)

	notifications := service.NewService(service.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: repository.Provide(),
	})
	directory := directoryservice.NewService(directoryservice.Params{
		DB: conn, Log: zap.NewNop(), Repo: directoryrepo.Provide(),
	})
	return NewFanout(FanoutParams{
		Log:           zap.NewNop(),
		Notifications: notifications,
		Directory:     directory,
		Email:         mailer,
	}), conn
}

func recipientsOf(t *testing.T, conn *gorm.DB) []snowflake.ID {
	t.Helper()
	var ids []snowflake.ID
	require.NoError(t, conn.Model(&domain.Notification{}).Order("recipient_id").Pluck("recipient_id", &ids).Error)
	return ids
}

func TestVolumeLowNotifiesOptedInUsers(t *testing.T) {
	mailer := &mockEmail{}
	mailer.On("SendTemplate", mock.Anything, []string{"cleo@acme.test"}, email.TemplateLowVolumeWarning, mock.Anything).Return(nil).Once()
	fanout, conn := setupFanout(t, mailer)

	payload, err := events.ToPayload(volumealert.BuildPayload("Acme", sldomain.ServiceLevel{
		ID: 500, CompanyID: companyID, Name: "Gold", TimeVolumeMinutes: 480, RemainingMinutes: 45,
		HourlyRate: decimal.NewFromInt(80),
	}))
	require.NoError(t, err)

	err = fanout.HandleVolumeLow(context.Background(), events.Event{ID: 1, Type: events.EventVolumeLow, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{2}, recipientsOf(t, conn))
	mailer.AssertExpectations(t)
}

func TestClientMessageNotifiesAdmins(t *testing.T) {
	mailer := &mockEmail{}
	mailer.On("SendTemplate", mock.Anything, []string{"ada@provider.test", "bob@provider.test"}, email.TemplateTicketClientReply, mock.Anything).Return(nil).Once()
	fanout, conn := setupFanout(t, mailer)

	payload, err := events.ToPayload(ticketdomain.MessagePostedPayload{
		TicketID: "100", TicketNumber: 7, CompanyID: "10", Subject: "VPN", MessageID: "900",
		AuthorID: "2", AuthorRole: "CLIENT", Content: "Still broken",
	})
	require.NoError(t, err)

	require.NoError(t, fanout.HandleMessagePosted(context.Background(), events.Event{ID: 1, Payload: payload}))
	assert.Equal(t, []snowflake.ID{1, 3}, recipientsOf(t, conn))
	mailer.AssertExpectations(t)
}

func TestAdminReplySkipsAuthorAndInternalNotes(t *testing.T) {
	mailer := &mockEmail{}
	mailer.On("SendTemplate", mock.Anything, []string{"dan@acme.test"}, email.TemplateTicketAdminReply, mock.Anything).Return(nil).Once()
	fanout, conn := setupFanout(t, mailer)

	note, err := events.ToPayload(ticketdomain.MessagePostedPayload{
		TicketID: "100", CompanyID: "10", AuthorID: "1", AuthorRole: "ADMIN", IsInternalNote: true,
	})
	require.NoError(t, err)
	require.NoError(t, fanout.HandleMessagePosted(context.Background(), events.Event{ID: 1, Payload: note}))
	assert.Empty(t, recipientsOf(t, conn))

	reply, err := events.ToPayload(ticketdomain.MessagePostedPayload{
		TicketID: "100", CompanyID: "10", AuthorID: "1", AuthorRole: "ADMIN", Content: "Fixed",
	})
	require.NoError(t, err)
	require.NoError(t, fanout.HandleMessagePosted(context.Background(), events.Event{ID: 2, Payload: reply}))
	assert.Equal(t, []snowflake.ID{4}, recipientsOf(t, conn))
	mailer.AssertExpectations(t)
}

func TestStatusChangeByClientIsNotFannedOut(t *testing.T) {
	mailer := &mockEmail{}
	fanout, conn := setupFanout(t, mailer)

	payload, err := events.ToPayload(ticketdomain.StatusChangedPayload{
		TicketID: "100", CompanyID: "10", From: ticketdomain.StatusWaitingForCustomer,
		To: ticketdomain.StatusInProgress, ActorID: "2", ActorRole: "CLIENT",
	})
	require.NoError(t, err)
	require.NoError(t, fanout.HandleStatusChanged(context.Background(), events.Event{ID: 1, Payload: payload}))
	assert.Empty(t, recipientsOf(t, conn))
	mailer.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEmailFailureIsReportedAfterNotifications(t *testing.T) {
	mailer := &mockEmail{}
	mailer.On("SendTemplate", mock.Anything, mock.Anything, email.TemplateTicketStatusChanged, mock.Anything).Return(errors.New("smtp down")).Once()
	fanout, conn := setupFanout(t, mailer)

	payload, err := events.ToPayload(ticketdomain.StatusChangedPayload{
		TicketID: "100", CompanyID: "10", From: ticketdomain.StatusOpen,
		To: ticketdomain.StatusClosed, ActorID: "1", ActorRole: "ADMIN",
	})
	require.NoError(t, err)

	err = fanout.HandleStatusChanged(context.Background(), events.Event{ID: 1, Payload: payload})
	assert.EqualError(t, err, "smtp down")
	assert.Equal(t, []snowflake.ID{4}, recipientsOf(t, conn))
	mailer.AssertExpectations(t)
}
