package servicelevel

import (
	"github.com/smallbiznis/supportdesk/internal/servicelevel/repository"
	"github.com/smallbiznis/supportdesk/internal/servicelevel/service"
	"go.uber.org/fx"
)

var Module = fx.Module("servicelevel.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
