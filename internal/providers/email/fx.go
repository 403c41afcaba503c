package email

import (
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromEnv),
)

func NewFromEnv(log *zap.Logger) Provider {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("EMAIL_PROVIDER"))) {
	case "noop", "none":
		return &NoOpProvider{}
	default:
		return NewLogProvider(log)
	}
}
