package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/config"
	"github.com/smallbiznis/supportdesk/internal/migration"
	"github.com/smallbiznis/supportdesk/internal/observability"
	"github.com/smallbiznis/supportdesk/internal/server"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
