package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTicket       = "ticket"
	ObjectWorkEntry    = "work_entry"
	ObjectServiceLevel = "service_level"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionTicketView           = "ticket.view"
	ActionTicketCreate         = "ticket.create"
	ActionTicketPostMessage    = "ticket.post_message"
	ActionTicketChangeStatus   = "ticket.change_status"
	ActionTicketChangePriority = "ticket.change_priority"

	ActionWorkEntryView       = "work_entry.view"
	ActionWorkEntryCreate     = "work_entry.create"
	ActionWorkEntryUpdate     = "work_entry.update"
	ActionWorkEntryDelete     = "work_entry.delete"
	ActionWorkEntryMarkBilled = "work_entry.mark_billed"
	ActionWorkEntryUnbilled   = "work_entry.list_unbilled"

	ActionServiceLevelView  = "service_level.view"
	ActionServiceLevelRenew = "service_level.renew"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists grouping rules through the gorm adapter.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer keeps policies in memory only.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error {
	if actor.UserID == 0 {
		return ErrInvalidActor
	}
	roleName, err := roleFor(actor.Role)
	if err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actor.UserID.String())
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, object, action)
		return ErrForbidden
	}
	return nil
}

func roleFor(role actorcontext.Role) (string, error) {
	switch role {
	case actorcontext.RoleAdmin, actorcontext.RoleClient:
		return "role:" + strings.ToLower(string(role)), nil
	default:
		return "", ErrInvalidActor
	}
}

// ensureGrouping binds subject to exactly one role; the role header can
// change between requests.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	if err := s.auditSvc.AuditLogTx(ctx, nil, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	}); err != nil {
		s.log.Warn("failed to audit denied authorization", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Client permissions
		{"role:client", ObjectTicket, ActionTicketView},
		{"role:client", ObjectTicket, ActionTicketCreate},
		{"role:client", ObjectTicket, ActionTicketPostMessage},
		{"role:client", ObjectWorkEntry, ActionWorkEntryView},
		{"role:client", ObjectServiceLevel, ActionServiceLevelView},

		// Admin permissions
		{"role:admin", ObjectTicket, ActionTicketView},
		{"role:admin", ObjectTicket, ActionTicketCreate},
		{"role:admin", ObjectTicket, ActionTicketPostMessage},
		{"role:admin", ObjectTicket, ActionTicketChangeStatus},
		{"role:admin", ObjectTicket, ActionTicketChangePriority},
		{"role:admin", ObjectWorkEntry, ActionWorkEntryView},
		{"role:admin", ObjectWorkEntry, ActionWorkEntryCreate},
		{"role:admin", ObjectWorkEntry, ActionWorkEntryUpdate},
		{"role:admin", ObjectWorkEntry, ActionWorkEntryDelete},
		{"role:admin", ObjectWorkEntry, ActionWorkEntryMarkBilled},
		{"role:admin", ObjectWorkEntry, ActionWorkEntryUnbilled},
		{"role:admin", ObjectServiceLevel, ActionServiceLevelView},
		{"role:admin", ObjectServiceLevel, ActionServiceLevelRenew},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
