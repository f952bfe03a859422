// @title           Finternet API
// @version         1.0
// @description     Invoice financing ledger and settlement engine

// @host      localhost:8080
// @BasePath  /api
// @Schemes 	http https

package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/fylaro/finternet/internal/authorization"
	"github.com/fylaro/finternet/internal/clock"
	"github.com/fylaro/finternet/internal/config"
	"github.com/fylaro/finternet/internal/distribution"
	"github.com/fylaro/finternet/internal/escrow"
	"github.com/fylaro/finternet/internal/events"
	"github.com/fylaro/finternet/internal/logger"
	"github.com/fylaro/finternet/internal/marketplace"
	"github.com/fylaro/finternet/internal/migration"
	"github.com/fylaro/finternet/internal/observability"
	"github.com/fylaro/finternet/internal/pool"
	"github.com/fylaro/finternet/internal/registry"
	"github.com/fylaro/finternet/internal/schedule"
	"github.com/fylaro/finternet/internal/scheduler"
	"github.com/fylaro/finternet/internal/server"
	"github.com/fylaro/finternet/internal/treasury"
	"github.com/fylaro/finternet/pkg/db"
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

		events.Module,
		authorization.Module,

		treasury.Module,
		registry.Module,
		marketplace.Module,
		schedule.Module,
		distribution.Module,
		escrow.Module,
		pool.Module,
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
