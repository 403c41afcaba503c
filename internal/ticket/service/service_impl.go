package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/events"
	obsmetrics "github.com/smallbiznis/supportdesk/internal/observability/metrics"
	"github.com/smallbiznis/supportdesk/internal/ticket/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const createTicketAttempts = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Outbox     *events.Outbox
	Dispatcher *events.Dispatcher
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	outbox     *events.Outbox
	dispatcher *events.Dispatcher
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ticket.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		outbox:     p.Outbox,
		dispatcher: p.Dispatcher,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Ticket, error) {
	actor, ok := actorcontext.FromContext(ctx)
	if !ok {
		return domain.Ticket{}, domain.ErrForbidden
	}

	companyID := req.CompanyID
	if !actor.IsAdmin() {
		if companyID != 0 && companyID != actor.CompanyID {
			return domain.Ticket{}, domain.ErrForbidden
		}
		companyID = actor.CompanyID
	}
	if companyID == 0 {
		return domain.Ticket{}, domain.ErrInvalidCompany
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return domain.Ticket{}, domain.ErrInvalidSubject
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return domain.Ticket{}, domain.ErrInvalidContent
	}
	priority := domain.PriorityMedium
	if req.Priority != "" {
		parsed, ok := domain.ParsePriority(string(req.Priority))
		if !ok {
			return domain.Ticket{}, domain.ErrInvalidPriority
		}
		priority = parsed
	}

	var (
		ticket    domain.Ticket
		published []events.Event
		err       error
	)
	for attempt := 1; attempt <= createTicketAttempts; attempt++ {
		ticket, published, err = s.createOnce(ctx, actor, companyID, subject, priority, content)
		if err == nil || !db.IsDuplicateKeyErr(err) {
			break
		}
		s.log.Debug("ticket number taken, retrying", zap.Int("attempt", attempt))
	}
	if err != nil {
		return domain.Ticket{}, db.Wrap(err)
	}

	s.dispatcher.Dispatch(ctx, published...)
	s.log.Info("ticket created",
		zap.String("ticket_id", ticket.ID.String()),
		zap.Int64("ticket_number", ticket.TicketNumber),
	)
	return ticket, nil
}

func (s *Service) createOnce(ctx context.Context, actor actorcontext.Actor, companyID snowflake.ID, subject string, priority domain.Priority, content string) (domain.Ticket, []events.Event, error) {
	var (
		ticket    domain.Ticket
		published []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := s.repo.NextTicketNumber(ctx, tx)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		ticket = domain.Ticket{
			ID:           s.genID.Generate(),
			CompanyID:    companyID,
			TicketNumber: number,
			Subject:      subject,
			Status:       domain.StatusOpen,
			Priority:     priority,
			CreatedBy:    actor.UserID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Insert(ctx, tx, &ticket); err != nil {
			return err
		}

		msg := domain.Message{
			ID:         s.genID.Generate(),
			TicketID:   ticket.ID,
			Sequence:   1,
			AuthorID:   actor.UserID,
			AuthorRole: string(actor.Role),
			Content:    content,
			CreatedAt:  now,
		}
		if err := s.repo.InsertMessage(ctx, tx, &msg); err != nil {
			return err
		}

		evt, err := s.publishMessagePosted(ctx, tx, ticket, msg)
		if err != nil {
			return err
		}
		published = append(published, evt)

		targetID := ticket.ID.String()
		return s.auditSvc.AuditLogTx(ctx, tx, "ticket.created", "ticket", &targetID, map[string]any{
			"company_id":    companyID.String(),
			"ticket_number": number,
			"priority":      string(priority),
		})
	})
	return ticket, published, err
}

func (s *Service) Get(ctx context.Context, ticketID snowflake.ID) (domain.Ticket, error) {
	if ticketID == 0 {
		return domain.Ticket{}, domain.ErrInvalidTicket
	}
	actor, ok := actorcontext.FromContext(ctx)
	if !ok {
		return domain.Ticket{}, domain.ErrForbidden
	}

	ticket, err := s.repo.FindByID(ctx, s.db, ticketID)
	if err != nil {
		return domain.Ticket{}, db.Wrap(err)
	}
	if ticket == nil {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	if !actor.CanAccessCompany(ticket.CompanyID) {
		return domain.Ticket{}, domain.ErrForbidden
	}
	return *ticket, nil
}

func (s *Service) ListMessages(ctx context.Context, ticketID snowflake.ID) ([]domain.Message, error) {
	ticket, err := s.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	actor, _ := actorcontext.FromContext(ctx)

	msgs, err := s.repo.ListMessages(ctx, s.db, ticket.ID, actor.IsAdmin())
	if err != nil {
		return nil, db.Wrap(err)
	}
	return msgs, nil
}

func (s *Service) PostMessage(ctx context.Context, req domain.PostMessageRequest) (domain.PostMessageResult, error) {
	actor, ok := actorcontext.FromContext(ctx)
	if !ok {
		return domain.PostMessageResult{}, domain.ErrForbidden
	}
	if req.TicketID == 0 {
		return domain.PostMessageResult{}, domain.ErrInvalidTicket
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return domain.PostMessageResult{}, domain.ErrInvalidContent
	}
	if req.IsInternalNote && !actor.IsAdmin() {
		return domain.PostMessageResult{}, domain.ErrForbidden
	}

	var (
		result    domain.PostMessageResult
		published []events.Event
		from      domain.Status
		changed   bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket, err := s.lockTicket(ctx, tx, actor, req.TicketID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && ticket.Status == domain.StatusClosed {
			return domain.ErrTicketClosed
		}

		seq, err := s.repo.NextSequence(ctx, tx, ticket.ID)
		if err != nil {
			return db.Wrap(err)
		}
		now := s.clock.Now().UTC()

		from = ticket.Status
		var next domain.Status
		next, changed = domain.Transition(ticket.Status, domain.MessagePosted{
			AuthorRole:     actor.Role,
			IsInternalNote: req.IsInternalNote,
		})
		if changed {
			// The SYSTEM message takes the lower sequence so the trail reads
			// status change first, then the message that caused it.
			systemMsg, evt, err := s.applyStatus(ctx, tx, actor, ticket, next, seq, now)
			if err != nil {
				return err
			}
			result.SystemMessage = &systemMsg
			published = append(published, evt)
			seq++
		}

		msg := domain.Message{
			ID:             s.genID.Generate(),
			TicketID:       ticket.ID,
			Sequence:       seq,
			AuthorID:       actor.UserID,
			AuthorRole:     string(actor.Role),
			Content:        content,
			IsInternalNote: req.IsInternalNote,
			CreatedAt:      now,
		}
		if err := s.repo.InsertMessage(ctx, tx, &msg); err != nil {
			return db.Wrap(err)
		}
		evt, err := s.publishMessagePosted(ctx, tx, *ticket, msg)
		if err != nil {
			return err
		}
		published = append(published, evt)

		result.Ticket = *ticket
		result.Message = msg
		return nil
	})
	if err != nil {
		return domain.PostMessageResult{}, err
	}

	s.dispatcher.Dispatch(ctx, published...)
	if changed {
		s.obsMetrics.RecordStatusTransition(ctx, string(result.Ticket.Status), "message")
		s.log.Info("ticket status changed by message",
			zap.String("ticket_id", result.Ticket.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(result.Ticket.Status)),
		)
	}
	return result, nil
}

func (s *Service) ChangeStatus(ctx context.Context, ticketID snowflake.ID, status domain.Status) (domain.ChangeResult, error) {
	actor, ok := actorcontext.FromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return domain.ChangeResult{}, domain.ErrForbidden
	}
	if ticketID == 0 {
		return domain.ChangeResult{}, domain.ErrInvalidTicket
	}
	status, ok = domain.ParseStatus(string(status))
	if !ok {
		return domain.ChangeResult{}, domain.ErrInvalidStatus
	}

	var (
		result    domain.ChangeResult
		published []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket, err := s.lockTicket(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		from := ticket.Status
		seq, err := s.repo.NextSequence(ctx, tx, ticket.ID)
		if err != nil {
			return db.Wrap(err)
		}
		systemMsg, evt, err := s.applyStatus(ctx, tx, actor, ticket, status, seq, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		published = append(published, evt)

		targetID := ticket.ID.String()
		if err := s.auditSvc.AuditLogTx(ctx, tx, "ticket.status_changed", "ticket", &targetID, map[string]any{
			"from": string(from),
			"to":   string(status),
		}); err != nil {
			return err
		}

		result = domain.ChangeResult{Ticket: *ticket, SystemMessage: &systemMsg}
		return nil
	})
	if err != nil {
		return domain.ChangeResult{}, err
	}

	s.dispatcher.Dispatch(ctx, published...)
	s.obsMetrics.RecordStatusTransition(ctx, string(status), "explicit")
	return result, nil
}

func (s *Service) ChangePriority(ctx context.Context, ticketID snowflake.ID, priority domain.Priority) (domain.ChangeResult, error) {
	actor, ok := actorcontext.FromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return domain.ChangeResult{}, domain.ErrForbidden
	}
	if ticketID == 0 {
		return domain.ChangeResult{}, domain.ErrInvalidTicket
	}
	priority, ok = domain.ParsePriority(string(priority))
	if !ok {
		return domain.ChangeResult{}, domain.ErrInvalidPriority
	}

	var (
		result    domain.ChangeResult
		published []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ticket, err := s.lockTicket(ctx, tx, actor, ticketID)
		if err != nil {
			return err
		}
		from := ticket.Priority
		now := s.clock.Now().UTC()
		ticket.Priority = priority
		ticket.UpdatedAt = now
		if err := s.repo.UpdatePriority(ctx, tx, ticket); err != nil {
			return db.Wrap(err)
		}

		seq, err := s.repo.NextSequence(ctx, tx, ticket.ID)
		if err != nil {
			return db.Wrap(err)
		}
		systemMsg, err := s.insertSystemMessage(ctx, tx, actor, ticket.ID, seq, domain.PriorityChangeMessage(from, priority), now)
		if err != nil {
			return err
		}

		if from != priority {
			payload, err := events.ToPayload(domain.PriorityChangedPayload{
				TicketID:     ticket.ID.String(),
				TicketNumber: ticket.TicketNumber,
				CompanyID:    ticket.CompanyID.String(),
				From:         from,
				To:           priority,
				ActorID:      actor.UserID.String(),
			})
			if err != nil {
				return err
			}
			evt, err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:        events.EventTicketPriorityChanged,
				AggregateID: ticket.ID,
				Payload:     payload,
				DedupeKey:   "ticket_priority:" + systemMsg.ID.String(),
			})
			if err != nil {
				return err
			}
			published = append(published, evt)
		}

		targetID := ticket.ID.String()
		if err := s.auditSvc.AuditLogTx(ctx, tx, "ticket.priority_changed", "ticket", &targetID, map[string]any{
			"from": string(from),
			"to":   string(priority),
		}); err != nil {
			return err
		}

		result = domain.ChangeResult{Ticket: *ticket, SystemMessage: &systemMsg}
		return nil
	})
	if err != nil {
		return domain.ChangeResult{}, err
	}

	s.dispatcher.Dispatch(ctx, published...)
	return result, nil
}

func (s *Service) lockTicket(ctx context.Context, tx *gorm.DB, actor actorcontext.Actor, ticketID snowflake.ID) (*domain.Ticket, error) {
	ticket, err := s.repo.FindByIDForUpdate(ctx, tx, ticketID)
	if err != nil {
		return nil, db.Wrap(err)
	}
	if ticket == nil {
		return nil, domain.ErrTicketNotFound
	}
	if !actor.CanAccessCompany(ticket.CompanyID) {
		return nil, domain.ErrForbidden
	}
	return ticket, nil
}

// applyStatus moves a locked ticket to next and records the SYSTEM message
// at sequence seq plus the status change event. The event is zero when the
// status did not change.
func (s *Service) applyStatus(ctx context.Context, tx *gorm.DB, actor actorcontext.Actor, ticket *domain.Ticket, next domain.Status, seq int64, now time.Time) (domain.Message, events.Event, error) {
	from := ticket.Status
	ticket.Status = next
	ticket.UpdatedAt = now
	if err := s.repo.UpdateStatus(ctx, tx, ticket); err != nil {
		return domain.Message{}, events.Event{}, db.Wrap(err)
	}

	systemMsg, err := s.insertSystemMessage(ctx, tx, actor, ticket.ID, seq, domain.StatusChangeMessage(from, next), now)
	if err != nil {
		return domain.Message{}, events.Event{}, err
	}
	// Re-asserting the current status is recorded but not announced.
	if from == next {
		return systemMsg, events.Event{}, nil
	}

	payload, err := events.ToPayload(domain.StatusChangedPayload{
		TicketID:     ticket.ID.String(),
		TicketNumber: ticket.TicketNumber,
		CompanyID:    ticket.CompanyID.String(),
		Subject:      ticket.Subject,
		From:         from,
		To:           next,
		ActorID:      actor.UserID.String(),
		ActorRole:    string(actor.Role),
	})
	if err != nil {
		return domain.Message{}, events.Event{}, err
	}
	evt, err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventTicketStatusChanged,
		AggregateID: ticket.ID,
		Payload:     payload,
		DedupeKey:   "ticket_status:" + systemMsg.ID.String(),
	})
	if err != nil {
		return domain.Message{}, events.Event{}, err
	}
	return systemMsg, evt, nil
}

func (s *Service) insertSystemMessage(ctx context.Context, tx *gorm.DB, actor actorcontext.Actor, ticketID snowflake.ID, seq int64, content string, now time.Time) (domain.Message, error) {
	msg := domain.Message{
		ID:              s.genID.Generate(),
		TicketID:        ticketID,
		Sequence:        seq,
		AuthorID:        actor.UserID,
		AuthorRole:      string(actor.Role),
		Content:         content,
		IsSystemMessage: true,
		CreatedAt:       now,
	}
	if err := s.repo.InsertMessage(ctx, tx, &msg); err != nil {
		return domain.Message{}, db.Wrap(err)
	}
	return msg, nil
}

func (s *Service) publishMessagePosted(ctx context.Context, tx *gorm.DB, ticket domain.Ticket, msg domain.Message) (events.Event, error) {
	payload, err := events.ToPayload(domain.MessagePostedPayload{
		TicketID:       ticket.ID.String(),
		TicketNumber:   ticket.TicketNumber,
		CompanyID:      ticket.CompanyID.String(),
		Subject:        ticket.Subject,
		MessageID:      msg.ID.String(),
		AuthorID:       msg.AuthorID.String(),
		AuthorRole:     msg.AuthorRole,
		Content:        msg.Content,
		IsInternalNote: msg.IsInternalNote,
	})
	if err != nil {
		return events.Event{}, err
	}
	evt, err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type:        events.EventTicketMessagePosted,
		AggregateID: ticket.ID,
		Payload:     payload,
		DedupeKey:   "ticket_message:" + msg.ID.String(),
	})
	if err != nil {
		return events.Event{}, err
	}
	return evt, nil
}
