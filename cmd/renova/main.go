package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/renova/internal/catalog"
	"github.com/smallbiznis/renova/internal/client"
	"github.com/smallbiznis/renova/internal/clock"
	"github.com/smallbiznis/renova/internal/config"
	"github.com/smallbiznis/renova/internal/invoice"
	"github.com/smallbiznis/renova/internal/logger"
	"github.com/smallbiznis/renova/internal/migration"
	"github.com/smallbiznis/renova/internal/notifier"
	"github.com/smallbiznis/renova/internal/observability"
	"github.com/smallbiznis/renova/internal/providers"
	"github.com/smallbiznis/renova/internal/scheduler"
	"github.com/smallbiznis/renova/internal/server"
	"github.com/smallbiznis/renova/internal/subscription"
	"github.com/smallbiznis/renova/internal/tenant"
	"github.com/smallbiznis/renova/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		tenant.Module,
		client.Module,
		catalog.Module,
		subscription.Module,
		invoice.Module,
		providers.Module,
		notifier.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
