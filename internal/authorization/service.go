package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/supportdesk/internal/actorcontext"
)

type Service interface {
	// Authorize checks the actor's role against the object/action policy.
	// Company ownership is enforced by the owning service.
	Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
