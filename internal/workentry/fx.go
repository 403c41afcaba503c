package workentry

import (
	"github.com/smallbiznis/supportdesk/internal/workentry/repository"
	"github.com/smallbiznis/supportdesk/internal/workentry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("workentry.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
