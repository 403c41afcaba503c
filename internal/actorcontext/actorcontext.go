package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Role is the portal role of the acting user.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleClient Role = "CLIENT"
)

// ParseRole normalizes a role header value.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleClient:
		return RoleClient, true
	default:
		return "", false
	}
}

// Actor identifies who is performing a request.
// CompanyID is zero for admins, who act across companies.
type Actor struct {
	UserID    snowflake.ID
	Role      Role
	CompanyID snowflake.ID
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessCompany reports whether the actor may read data owned by companyID.
func (a Actor) CanAccessCompany(companyID snowflake.ID) bool {
	if a.IsAdmin() {
		return true
	}
	return a.CompanyID != 0 && a.CompanyID == companyID
}

type actorContextKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext returns the actor from context, if set.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.UserID == 0 || actor.Role == "" {
		return Actor{}, false
	}
	return actor, true
}
