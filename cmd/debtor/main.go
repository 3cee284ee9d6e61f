package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/debtor/internal/clock"
	"github.com/smallbiznis/debtor/internal/config"
	"github.com/smallbiznis/debtor/internal/migration"
	"github.com/smallbiznis/debtor/internal/observability"
	"github.com/smallbiznis/debtor/internal/scheduler"
	"github.com/smallbiznis/debtor/internal/server"
	"github.com/smallbiznis/debtor/pkg/db"
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
		scheduler.Module,
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
