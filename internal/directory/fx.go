package directory

import (
	"github.com/smallbiznis/supportdesk/internal/directory/repository"
	"github.com/smallbiznis/supportdesk/internal/directory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("directory.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
