package migration

import (
	"github.com/smallbiznis/supportdesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if err := Migrate(conn, cfg); err != nil {
			return err
		}
		log.Info("schema up to date", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
