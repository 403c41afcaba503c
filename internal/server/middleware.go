package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
)

// Identity headers are set by the upstream gateway after it authenticates
// the portal user.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderCompanyID = "X-Company-ID"
)

// ActorRequired resolves the acting user from the gateway headers.
// CLIENT requests must carry the company they belong to.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := actorFromHeaders(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set("actor_id", actor.UserID.String())
		c.Request = c.Request.WithContext(actorcontext.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func actorFromHeaders(c *gin.Context) (actorcontext.Actor, error) {
	userID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderUserID)))
	if err != nil || userID == 0 {
		return actorcontext.Actor{}, ErrUnauthorized
	}
	role, ok := actorcontext.ParseRole(c.GetHeader(HeaderUserRole))
	if !ok {
		return actorcontext.Actor{}, ErrUnauthorized
	}

	actor := actorcontext.Actor{UserID: userID, Role: role}
	if role == actorcontext.RoleClient {
		companyID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderCompanyID)))
		if err != nil || companyID == 0 {
			return actorcontext.Actor{}, ErrUnauthorized
		}
		actor.CompanyID = companyID
	}
	return actor, nil
}
