package ticket

import (
	"github.com/smallbiznis/supportdesk/internal/ticket/repository"
	"github.com/smallbiznis/supportdesk/internal/ticket/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ticket.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
