package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/events"
	obsmetrics "github.com/smallbiznis/supportdesk/internal/observability/metrics"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"github.com/smallbiznis/supportdesk/internal/volumealert"
	"github.com/smallbiznis/supportdesk/internal/workentry/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	SLRepo     sldomain.Repository
	Notifier   *volumealert.Notifier
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
	slRepo     sldomain.Repository
	notifier   *volumealert.Notifier
	outbox     *events.Outbox
	dispatcher *events.Dispatcher
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("workentry.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		slRepo:     p.SLRepo,
		notifier:   p.Notifier,
		outbox:     p.Outbox,
		dispatcher: p.Dispatcher,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// entryInput is a validated create or update request.
type entryInput struct {
	minutes     int
	rounded     int
	description string
	hourlyRate  decimal.Decimal
	included    bool
}

func validateInput(minutes int, description string, hourlyRate *decimal.Decimal, included bool) (entryInput, error) {
	if minutes <= 0 {
		return entryInput{}, domain.ErrInvalidMinutes
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return entryInput{}, domain.ErrInvalidDescription
	}
	rounded, err := domain.RoundMinutes(minutes)
	if err != nil {
		return entryInput{}, err
	}

	in := entryInput{
		minutes:     minutes,
		rounded:     rounded,
		description: description,
		included:    included,
	}
	if !included {
		if hourlyRate == nil || !hourlyRate.IsPositive() {
			return entryInput{}, domain.ErrInvalidHourlyRate
		}
		// Rates are stored as numeric(12,2); the amount must match the stored rate.
		if !hourlyRate.Equal(hourlyRate.Round(2)) {
			return entryInput{}, domain.ErrInvalidHourlyRate
		}
		in.hourlyRate = *hourlyRate
	}
	return in, nil
}

// apply copies the input onto entry and keeps rate and amount consistent
// with the volume source.
func (in entryInput) apply(entry *domain.WorkEntry) {
	entry.Minutes = in.minutes
	entry.RoundedMinutes = in.rounded
	entry.Description = in.description
	entry.IsFromIncludedVolume = in.included
	if in.included {
		entry.HourlyRate = decimal.NullDecimal{}
		entry.TotalAmount = decimal.NullDecimal{}
		return
	}
	entry.HourlyRate = decimal.NewNullDecimal(in.hourlyRate)
	entry.TotalAmount = decimal.NewNullDecimal(domain.Amount(in.rounded, in.hourlyRate))
}

func requireAdmin(ctx context.Context) (actorcontext.Actor, error) {
	actor, ok := actorcontext.FromContext(ctx)
	if !ok || !actor.IsAdmin() {
		return actorcontext.Actor{}, domain.ErrForbidden
	}
	return actor, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Result, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Result{}, err
	}
	if req.TicketID == 0 {
		return domain.Result{}, domain.ErrInvalidTicket
	}
	in, err := validateInput(req.Minutes, req.Description, req.HourlyRate, req.IsFromIncludedVolume)
	if err != nil {
		return domain.Result{}, err
	}

	var (
		result    domain.Result
		published []events.Event
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		companyID, sl, err := s.lockLedger(ctx, tx, req.TicketID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		entry := domain.WorkEntry{
			ID:        s.genID.Generate(),
			TicketID:  req.TicketID,
			CreatedBy: actor.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		in.apply(&entry)

		if in.included {
			if sl == nil {
				return &domain.InsufficientVolumeError{Available: 0, Required: in.rounded}
			}
			if sl.RemainingMinutes < in.rounded {
				return &domain.InsufficientVolumeError{Available: sl.RemainingMinutes, Required: in.rounded}
			}
			previous := sl.RemainingMinutes
			sl.RemainingMinutes -= in.rounded
			evts, err := s.writeBalance(ctx, tx, sl, previous, now)
			if err != nil {
				return err
			}
			published = append(published, evts...)
		}

		if err := s.repo.Insert(ctx, tx, &entry); err != nil {
			return db.Wrap(err)
		}
		if err := s.audit(ctx, tx, "work_entry.created", entry, companyID, sl); err != nil {
			return err
		}

		result = domain.Result{Entry: entry, RemainingMinutes: remainingOf(sl)}
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	s.afterCommit(ctx, "create", in.included, in.rounded, published)
	return result, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (domain.Result, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Result{}, err
	}
	if req.EntryID == 0 {
		return domain.Result{}, domain.ErrInvalidEntry
	}

	var (
		in        entryInput
		result    domain.Result
		published []events.Event
		consumed  int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		companyID, sl, entry, err := s.lockEntry(ctx, tx, req.EntryID)
		if err != nil {
			return err
		}
		// A billed entry reports already_billed whatever the payload.
		in, err = validateInput(req.Minutes, req.Description, req.HourlyRate, req.IsFromIncludedVolume)
		if err != nil {
			return err
		}

		oldRounded := entry.RoundedMinutes
		previous := 0
		if sl != nil {
			previous = sl.RemainingMinutes
		}

		switch {
		case entry.IsFromIncludedVolume && in.included:
			delta := in.rounded - oldRounded
			if sl == nil {
				return &domain.InsufficientVolumeError{Available: 0, Required: in.rounded}
			}
			if delta > 0 && sl.RemainingMinutes < delta {
				return &domain.InsufficientVolumeError{
					Available: sl.RemainingMinutes + oldRounded,
					Required:  in.rounded,
				}
			}
			if delta > 0 {
				sl.RemainingMinutes -= delta
				consumed = delta
			} else {
				sl.Credit(-delta)
			}
		case entry.IsFromIncludedVolume && !in.included:
			if sl != nil {
				sl.Credit(oldRounded)
			}
		case !entry.IsFromIncludedVolume && in.included:
			if sl == nil {
				return &domain.InsufficientVolumeError{Available: 0, Required: in.rounded}
			}
			if sl.RemainingMinutes < in.rounded {
				return &domain.InsufficientVolumeError{Available: sl.RemainingMinutes, Required: in.rounded}
			}
			sl.RemainingMinutes -= in.rounded
			consumed = in.rounded
		}

		now := s.clock.Now().UTC()
		if sl != nil && sl.RemainingMinutes != previous {
			evts, err := s.writeBalance(ctx, tx, sl, previous, now)
			if err != nil {
				return err
			}
			published = append(published, evts...)
		}

		in.apply(entry)
		entry.UpdatedAt = now
		ok, err := s.repo.UpdateUnbilled(ctx, tx, entry)
		if err != nil {
			return db.Wrap(err)
		}
		if !ok {
			return domain.ErrAlreadyBilled
		}

		if err := s.audit(ctx, tx, "work_entry.updated", *entry, companyID, sl, "previous_rounded_minutes", oldRounded); err != nil {
			return err
		}

		result = domain.Result{Entry: *entry, RemainingMinutes: remainingOf(sl)}
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	s.afterCommit(ctx, "update", in.included, consumed, published)
	return result, nil
}

func (s *Service) Delete(ctx context.Context, entryID snowflake.ID) (domain.DeleteResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DeleteResult{}, err
	}
	if entryID == 0 {
		return domain.DeleteResult{}, domain.ErrInvalidEntry
	}

	var (
		result   domain.DeleteResult
		included bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		companyID, sl, entry, err := s.lockEntry(ctx, tx, entryID)
		if err != nil {
			return err
		}
		included = entry.IsFromIncludedVolume

		if included && sl != nil {
			previous := sl.RemainingMinutes
			sl.Credit(entry.RoundedMinutes)
			if sl.RemainingMinutes != previous {
				if _, err := s.writeBalance(ctx, tx, sl, previous, s.clock.Now().UTC()); err != nil {
					return err
				}
			}
		}

		ok, err := s.repo.DeleteUnbilled(ctx, tx, entry.ID)
		if err != nil {
			return db.Wrap(err)
		}
		if !ok {
			return domain.ErrAlreadyBilled
		}

		if err := s.audit(ctx, tx, "work_entry.deleted", *entry, companyID, sl); err != nil {
			return err
		}

		result = domain.DeleteResult{EntryID: entry.ID, RemainingMinutes: remainingOf(sl)}
		return nil
	})
	if err != nil {
		return domain.DeleteResult{}, err
	}

	s.afterCommit(ctx, "delete", included, 0, nil)
	return result, nil
}

func (s *Service) MarkBilled(ctx context.Context, ids []snowflake.ID) (domain.MarkBilledResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.MarkBilledResult{}, err
	}
	ids, err := normalizeIDs(ids)
	if err != nil {
		return domain.MarkBilledResult{}, err
	}

	var (
		result    domain.MarkBilledResult
		published []events.Event
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		companyIDs, err := s.repo.CompanyIDsForEntries(ctx, tx, ids)
		if err != nil {
			return db.Wrap(err)
		}
		// Lock in ascending company order so concurrent batches cannot deadlock.
		sort.Slice(companyIDs, func(i, j int) bool { return companyIDs[i] < companyIDs[j] })
		for _, companyID := range companyIDs {
			if _, err := s.slRepo.FindByCompanyForUpdate(ctx, tx, companyID); err != nil {
				return db.Wrap(err)
			}
		}

		unbilled, err := s.repo.UnbilledIDs(ctx, tx, ids)
		if err != nil {
			return db.Wrap(err)
		}
		result = domain.MarkBilledResult{
			Billed:  []snowflake.ID{},
			Skipped: difference(ids, unbilled),
		}
		if len(unbilled) == 0 {
			return nil
		}

		now := s.clock.Now().UTC()
		affected, err := s.repo.MarkBilled(ctx, tx, unbilled, now)
		if err != nil {
			return db.Wrap(err)
		}
		if affected != int64(len(unbilled)) {
			return db.Wrap(fmt.Errorf("marked %d of %d entries billed", affected, len(unbilled)))
		}

		for _, id := range unbilled {
			evt, err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:        events.EventWorkEntryBilled,
				AggregateID: id,
				Payload: map[string]any{
					"entryId":  id.String(),
					"billedAt": now.Format(time.RFC3339),
				},
				DedupeKey: "work_entry_billed:" + id.String(),
			})
			if err != nil {
				return err
			}
			published = append(published, evt)

			targetID := id.String()
			if err := s.auditSvc.AuditLogTx(ctx, tx, "work_entry.billed", "work_entry", &targetID, map[string]any{
				"billed_at": now,
			}); err != nil {
				return err
			}
		}

		result.Billed = unbilled
		return nil
	})
	if err != nil {
		return domain.MarkBilledResult{}, err
	}

	s.dispatcher.Dispatch(ctx, published...)
	s.obsMetrics.RecordWorkEntryMutation(ctx, "mark_billed", false)
	s.log.Info("work entries billed",
		zap.Int("billed", len(result.Billed)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, entryID snowflake.ID) (domain.WorkEntry, error) {
	if entryID == 0 {
		return domain.WorkEntry{}, domain.ErrInvalidEntry
	}
	actor, ok := actorcontext.FromContext(ctx)
	if !ok {
		return domain.WorkEntry{}, domain.ErrForbidden
	}

	entry, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return domain.WorkEntry{}, db.Wrap(err)
	}
	if entry == nil {
		return domain.WorkEntry{}, domain.ErrNotFound
	}
	companyID, found, err := s.repo.TicketCompanyID(ctx, s.db, entry.TicketID)
	if err != nil {
		return domain.WorkEntry{}, db.Wrap(err)
	}
	if !found {
		return domain.WorkEntry{}, domain.ErrTicketNotFound
	}
	if !actor.CanAccessCompany(companyID) {
		return domain.WorkEntry{}, domain.ErrForbidden
	}
	return *entry, nil
}

func (s *Service) ListByTicket(ctx context.Context, ticketID snowflake.ID) ([]domain.WorkEntry, error) {
	if ticketID == 0 {
		return nil, domain.ErrInvalidTicket
	}
	actor, ok := actorcontext.FromContext(ctx)
	if !ok {
		return nil, domain.ErrForbidden
	}

	companyID, found, err := s.repo.TicketCompanyID(ctx, s.db, ticketID)
	if err != nil {
		return nil, db.Wrap(err)
	}
	if !found {
		return nil, domain.ErrTicketNotFound
	}
	if !actor.CanAccessCompany(companyID) {
		return nil, domain.ErrForbidden
	}

	entries, err := s.repo.ListByTicket(ctx, s.db, ticketID)
	if err != nil {
		return nil, db.Wrap(err)
	}
	return entries, nil
}

func (s *Service) ListUnbilled(ctx context.Context, companyID snowflake.ID) (domain.UnbilledSummary, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.UnbilledSummary{}, err
	}
	if companyID == 0 {
		return domain.UnbilledSummary{}, domain.ErrInvalidCompany
	}

	entries, err := s.repo.ListUnbilledBillable(ctx, s.db, companyID)
	if err != nil {
		return domain.UnbilledSummary{}, db.Wrap(err)
	}

	total := decimal.Zero
	for _, entry := range entries {
		if entry.TotalAmount.Valid {
			total = total.Add(entry.TotalAmount.Decimal)
		}
	}
	if entries == nil {
		entries = []domain.WorkEntry{}
	}
	return domain.UnbilledSummary{
		CompanyID:   companyID,
		Entries:     entries,
		TotalAmount: total,
	}, nil
}

// lockLedger resolves the ticket's company and locks its service level.
// The returned service level is nil when the company has none.
func (s *Service) lockLedger(ctx context.Context, tx *gorm.DB, ticketID snowflake.ID) (snowflake.ID, *sldomain.ServiceLevel, error) {
	companyID, found, err := s.repo.TicketCompanyID(ctx, tx, ticketID)
	if err != nil {
		return 0, nil, db.Wrap(err)
	}
	if !found {
		return 0, nil, domain.ErrTicketNotFound
	}
	sl, err := s.slRepo.FindByCompanyForUpdate(ctx, tx, companyID)
	if err != nil {
		return 0, nil, db.Wrap(err)
	}
	return companyID, sl, nil
}

// lockEntry locks the ledger of an entry's company, then re-reads the entry
// under that lock and rejects billed entries.
func (s *Service) lockEntry(ctx context.Context, tx *gorm.DB, entryID snowflake.ID) (snowflake.ID, *sldomain.ServiceLevel, *domain.WorkEntry, error) {
	existing, err := s.repo.FindByID(ctx, tx, entryID)
	if err != nil {
		return 0, nil, nil, db.Wrap(err)
	}
	if existing == nil {
		return 0, nil, nil, domain.ErrNotFound
	}

	companyID, sl, err := s.lockLedger(ctx, tx, existing.TicketID)
	if err != nil {
		return 0, nil, nil, err
	}

	entry, err := s.repo.FindByIDForUpdate(ctx, tx, entryID)
	if err != nil {
		return 0, nil, nil, db.Wrap(err)
	}
	if entry == nil {
		return 0, nil, nil, domain.ErrNotFound
	}
	if entry.IsBilled {
		return 0, nil, nil, domain.ErrAlreadyBilled
	}
	return companyID, sl, entry, nil
}

// writeBalance persists sl and, when the balance went down, lets the
// notifier decide on a low-volume warning in the same transaction.
func (s *Service) writeBalance(ctx context.Context, tx *gorm.DB, sl *sldomain.ServiceLevel, previous int, now time.Time) ([]events.Event, error) {
	if err := s.slRepo.UpdateBalance(ctx, tx, sl, now); err != nil {
		return nil, db.Wrap(err)
	}
	if sl.RemainingMinutes >= previous {
		return nil, nil
	}
	evt, err := s.notifier.ObserveTx(ctx, tx, previous, *sl)
	if err != nil {
		return nil, err
	}
	if evt.ID == 0 {
		return nil, nil
	}
	return []events.Event{evt}, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, entry domain.WorkEntry, companyID snowflake.ID, sl *sldomain.ServiceLevel, extra ...any) error {
	metadata := map[string]any{
		"ticket_id":               entry.TicketID.String(),
		"company_id":              companyID.String(),
		"rounded_minutes":         entry.RoundedMinutes,
		"is_from_included_volume": entry.IsFromIncludedVolume,
	}
	if entry.TotalAmount.Valid {
		metadata["total_amount"] = entry.TotalAmount.Decimal.StringFixed(2)
	}
	if sl != nil {
		metadata["remaining_minutes"] = sl.RemainingMinutes
	}
	for i := 0; i+1 < len(extra); i += 2 {
		if key, ok := extra[i].(string); ok {
			metadata[key] = extra[i+1]
		}
	}
	targetID := entry.ID.String()
	return s.auditSvc.AuditLogTx(ctx, tx, action, "work_entry", &targetID, metadata)
}

func (s *Service) afterCommit(ctx context.Context, operation string, included bool, consumed int, published []events.Event) {
	s.dispatcher.Dispatch(ctx, published...)
	s.obsMetrics.RecordWorkEntryMutation(ctx, operation, included)
	if included {
		s.obsMetrics.RecordIncludedMinutes(ctx, consumed)
	}
}

func remainingOf(sl *sldomain.ServiceLevel) *int {
	if sl == nil {
		return nil
	}
	remaining := sl.RemainingMinutes
	return &remaining
}

func normalizeIDs(ids []snowflake.ID) ([]snowflake.ID, error) {
	if len(ids) == 0 {
		return nil, domain.ErrInvalidEntryIDs
	}
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			return nil, domain.ErrInvalidEntryIDs
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func difference(all, subset []snowflake.ID) []snowflake.ID {
	keep := make(map[snowflake.ID]struct{}, len(subset))
	for _, id := range subset {
		keep[id] = struct{}{}
	}
	out := []snowflake.ID{}
	for _, id := range all {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
