package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeByRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := actorcontext.Actor{UserID: 1, Role: actorcontext.RoleAdmin}
	client := actorcontext.Actor{UserID: 2, Role: actorcontext.RoleClient, CompanyID: 10}

	cases := []struct {
		name   string
		actor  actorcontext.Actor
		object string
		action string
		want   error
	}{
		{"admin logs work", admin, ObjectWorkEntry, ActionWorkEntryCreate, nil},
		{"admin renews", admin, ObjectServiceLevel, ActionServiceLevelRenew, nil},
		{"client posts message", client, ObjectTicket, ActionTicketPostMessage, nil},
		{"client reads entries", client, ObjectWorkEntry, ActionWorkEntryView, nil},
		{"client cannot log work", client, ObjectWorkEntry, ActionWorkEntryCreate, ErrForbidden},
		{"client cannot change status", client, ObjectTicket, ActionTicketChangeStatus, ErrForbidden},
		{"client cannot mark billed", client, ObjectWorkEntry, ActionWorkEntryMarkBilled, ErrForbidden},
		{"client cannot read audit", client, ObjectAuditLog, ActionAuditLogView, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, actorcontext.Actor{UserID: 5, Role: actorcontext.RoleAdmin}, ObjectWorkEntry, ActionWorkEntryDelete))

	err := svc.Authorize(ctx, actorcontext.Actor{UserID: 5, Role: actorcontext.RoleClient, CompanyID: 3}, ObjectWorkEntry, ActionWorkEntryDelete)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeRejectsInvalidActor(t *testing.T) {
	svc := newTestService(t)

	err := svc.Authorize(context.Background(), actorcontext.Actor{}, ObjectTicket, ActionTicketView)
	assert.ErrorIs(t, err, ErrInvalidActor)

	err = svc.Authorize(context.Background(), actorcontext.Actor{UserID: 1, Role: "GUEST"}, ObjectTicket, ActionTicketView)
	assert.ErrorIs(t, err, ErrInvalidActor)
}
