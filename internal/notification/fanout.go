package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	directorydomain "github.com/smallbiznis/supportdesk/internal/directory/domain"
	"github.com/smallbiznis/supportdesk/internal/events"
	"github.com/smallbiznis/supportdesk/internal/notification/domain"
	"github.com/smallbiznis/supportdesk/internal/providers/email"
	ticketdomain "github.com/smallbiznis/supportdesk/internal/ticket/domain"
	"github.com/smallbiznis/supportdesk/internal/volumealert"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type FanoutParams struct {
	fx.In

	Log           *zap.Logger
	Notifications domain.Service
	Directory     directorydomain.Service
	Email         email.Provider
}

// Fanout turns delivered domain events into notifications and emails for
// the users on the other side of the conversation.
type Fanout struct {
	log           *zap.Logger
	notifications domain.Service
	directory     directorydomain.Service
	email         email.Provider
}

func NewFanout(p FanoutParams) *Fanout {
	return &Fanout{
		log:           p.Log.Named("notification.fanout"),
		notifications: p.Notifications,
		directory:     p.Directory,
		email:         p.Email,
	}
}

func RegisterFanout(d *events.Dispatcher, f *Fanout) {
	d.Register(events.EventVolumeLow, f.HandleVolumeLow)
	d.Register(events.EventTicketMessagePosted, f.HandleMessagePosted)
	d.Register(events.EventTicketStatusChanged, f.HandleStatusChanged)
}

func (f *Fanout) HandleVolumeLow(ctx context.Context, evt events.Event) error {
	var payload volumealert.Payload
	if err := events.Decode(evt, &payload); err != nil {
		return err
	}

	recipients, err := f.directory.ListCompanyRecipients(ctx, payload.CompanyID, "", directorydomain.PreferenceLowVolume)
	if err != nil {
		return err
	}

	title := "Support volume running low"
	message := fmt.Sprintf("%s has %d of %d included minutes left on %s.",
		payload.CompanyName, payload.RemainingMinutes, payload.TotalMinutes, payload.ServiceLevelName)
	relatedID := payload.ServiceLevelID
	return f.deliver(ctx, recipients, 0, title, message, &relatedID, email.TemplateLowVolumeWarning, evt.Payload)
}

func (f *Fanout) HandleMessagePosted(ctx context.Context, evt events.Event) error {
	var payload ticketdomain.MessagePostedPayload
	if err := events.Decode(evt, &payload); err != nil {
		return err
	}
	if payload.IsInternalNote {
		return nil
	}
	companyID, ticketID, authorID, err := parseTicketIDs(payload.CompanyID, payload.TicketID, payload.AuthorID)
	if err != nil {
		return err
	}

	var (
		recipients []directorydomain.User
		template   string
		title      string
	)
	switch actorcontext.Role(payload.AuthorRole) {
	case actorcontext.RoleClient:
		recipients, err = f.directory.ListAdmins(ctx)
		template = email.TemplateTicketClientReply
		title = fmt.Sprintf("New customer message on ticket #%d", payload.TicketNumber)
	case actorcontext.RoleAdmin:
		recipients, err = f.directory.ListCompanyRecipients(ctx, companyID, string(actorcontext.RoleClient), directorydomain.PreferenceTicketUpdates)
		template = email.TemplateTicketAdminReply
		title = fmt.Sprintf("New reply on ticket #%d", payload.TicketNumber)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	return f.deliver(ctx, recipients, authorID, title, payload.Subject, &ticketID, template, evt.Payload)
}

func (f *Fanout) HandleStatusChanged(ctx context.Context, evt events.Event) error {
	var payload ticketdomain.StatusChangedPayload
	if err := events.Decode(evt, &payload); err != nil {
		return err
	}
	// Status moves caused by a client reply are covered by the reply notice.
	if actorcontext.Role(payload.ActorRole) != actorcontext.RoleAdmin {
		return nil
	}
	companyID, ticketID, actorID, err := parseTicketIDs(payload.CompanyID, payload.TicketID, payload.ActorID)
	if err != nil {
		return err
	}

	recipients, err := f.directory.ListCompanyRecipients(ctx, companyID, string(actorcontext.RoleClient), directorydomain.PreferenceTicketUpdates)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("Ticket #%d is now %s", payload.TicketNumber, payload.To)
	message := ticketdomain.StatusChangeMessage(payload.From, payload.To)
	return f.deliver(ctx, recipients, actorID, title, message, &ticketID, email.TemplateTicketStatusChanged, evt.Payload)
}

// deliver notifies every recipient except skip, then sends one templated
// email to all of them. Failures are collected, not short-circuited.
func (f *Fanout) deliver(ctx context.Context, recipients []directorydomain.User, skip snowflake.ID, title, message string, relatedID *snowflake.ID, template string, variables map[string]any) error {
	var (
		errs []error
		to   []string
	)
	for _, user := range recipients {
		if user.ID == skip {
			continue
		}
		if _, err := f.notifications.Create(ctx, user.ID, title, message, relatedID); err != nil {
			errs = append(errs, err)
		}
		if user.Email != "" {
			to = append(to, user.Email)
		}
	}
	if len(to) > 0 {
		if err := f.email.SendTemplate(ctx, to, template, variables); err != nil {
			errs = append(errs, err)
		}
	}

	f.log.Debug("fanout delivered",
		zap.String("template", template),
		zap.Int("recipients", len(to)),
		zap.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

func parseTicketIDs(company, ticket, actor string) (companyID, ticketID, actorID snowflake.ID, err error) {
	if companyID, err = snowflake.ParseString(company); err != nil {
		return 0, 0, 0, fmt.Errorf("company id: %w", err)
	}
	if ticketID, err = snowflake.ParseString(ticket); err != nil {
		return 0, 0, 0, fmt.Errorf("ticket id: %w", err)
	}
	if actorID, err = snowflake.ParseString(actor); err != nil {
		return 0, 0, 0, fmt.Errorf("actor id: %w", err)
	}
	return companyID, ticketID, actorID, nil
}
