// Command renewdue renews every service level whose renewal date has passed.
// It is meant to be run by an external scheduler such as cron.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supportdesk/internal/audit"
	"github.com/smallbiznis/supportdesk/internal/clock"
	"github.com/smallbiznis/supportdesk/internal/config"
	"github.com/smallbiznis/supportdesk/internal/observability"
	"github.com/smallbiznis/supportdesk/internal/servicelevel"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		svc sldomain.Service
		clk clock.Clock
		log *zap.Logger
	)

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		db.Module,
		clock.Module,
		audit.Module,
		servicelevel.Module,
		fx.Populate(&svc, &clk, &log),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "renewdue: start:", err)
		return 1
	}

	code := 0
	result, err := svc.RenewDue(context.Background(), clk.Now())
	if err != nil {
		log.Error("renew due failed", zap.Error(err))
		code = 1
	} else {
		log.Info("renew due finished",
			zap.Int("renewed", len(result.Renewed)),
			zap.Int("failed", len(result.Failed)),
			zap.Int("skipped", len(result.Skipped)),
		)
		if len(result.Failed) > 0 {
			code = 1
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Warn("shutdown failed", zap.Error(err))
	}
	return code
}
