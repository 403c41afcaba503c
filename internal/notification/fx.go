package notification

import (
	"github.com/smallbiznis/supportdesk/internal/notification/repository"
	"github.com/smallbiznis/supportdesk/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(NewFanout),
	fx.Invoke(RegisterFanout),
)
