//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"latexbot-api/internal/config"
	"latexbot-api/internal/infrastructure/persistence/postgres"
	"latexbot-api/internal/interfaces/http/router"
)

// PostgresOnlyDataLayer 仅包含 PostgreSQL 的数据层（用于 bootstrap）
type PostgresOnlyDataLayer struct {
	PgClient   *postgres.Client
	TxManager  *postgres.TxManager
	LedgerRepo *postgres.LedgerRepository
}

// InitializePostgresOnly 仅初始化 PostgreSQL 数据层（用于 bootstrap）
func InitializePostgresOnly(ctx context.Context, cfg *config.Config) (*PostgresOnlyDataLayer, func(), error) {
	wire.Build(
		ProvidePostgresClientRequired,
		ProvideTxManager,
		ProvidePostgresLedgerRepository,
		wire.Struct(new(PostgresOnlyDataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		DataSet,
		QuotaSet,
		PipelineSet,
		RouterSet,
	)
	return nil, nil, nil
}

// DataSet 数据层提供者集合
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	ProvideTxManager,
	ProvidePostgresLedgerRepository,
	ProvideRedisClient,
)

// QuotaSet 配额提供者集合
var QuotaSet = wire.NewSet(
	ProvideLedgerBackend,
	ProvideQuotaGate,
)

// PipelineSet 流水线提供者集合
var PipelineSet = wire.NewSet(
	ProvideConverter,
	ProvideSender,
	ProvideOutcomePublisher,
	ProvideOrchestrator,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideLatexBotHandler,
	ProvideHealthHandler,
	ProvideRateLimiter,
	wire.Struct(new(router.RouterHandlers), "*"),
	router.New,
)
