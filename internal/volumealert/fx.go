package volumealert

import "go.uber.org/fx"

var Module = fx.Module("volumealert",
	fx.Provide(NewNotifier),
)
