package wire

import (
	"context"
	"fmt"
	"net/http"

	"latexbot-api/internal/application/pipeline"
	"latexbot-api/internal/application/quota"
	"latexbot-api/internal/config"
	"latexbot-api/internal/domain/repository"
	"latexbot-api/internal/infrastructure/latex"
	"latexbot-api/internal/infrastructure/mailer"
	"latexbot-api/internal/infrastructure/messaging"
	"latexbot-api/internal/infrastructure/persistence/memory"
	"latexbot-api/internal/infrastructure/persistence/postgres"
	"latexbot-api/internal/infrastructure/persistence/redis"
	"latexbot-api/internal/interfaces/http/handler"
	"latexbot-api/internal/interfaces/http/middleware"
	"latexbot-api/pkg/logger"
)

// LedgerBackend 按配置选定的账本后端
type LedgerBackend struct {
	Name     string
	Store    quota.LedgerStore
	Reserver repository.LedgerReserver
	Pinger   repository.Pinger
}

// ProvidePostgresClient 提供 PostgreSQL 客户端，账本不使用 postgres 时返回 nil
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if !cfg.UsesPostgres() {
		return nil, func() {}, nil
	}
	return ProvidePostgresClientRequired(cfg)
}

// ProvidePostgresClientRequired 提供 PostgreSQL 客户端
func ProvidePostgresClientRequired(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideTxManager 提供事务管理器
func ProvideTxManager(client *postgres.Client) *postgres.TxManager {
	if client == nil {
		return nil
	}
	return postgres.NewTxManager(client)
}

// ProvidePostgresLedgerRepository 提供行存储账本
func ProvidePostgresLedgerRepository(cfg *config.Config, client *postgres.Client, tx *postgres.TxManager) *postgres.LedgerRepository {
	if client == nil {
		return nil
	}
	return postgres.NewLedgerRepository(client, tx, cfg.Quota.DocumentKey)
}

// ProvideRedisClient 提供 Redis 客户端，没有组件需要 Redis 时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.UsesRedis() {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideLedgerBackend 按 quota.backend 组装账本后端
func ProvideLedgerBackend(ctx context.Context, cfg *config.Config, redisClient *redis.Client, pgRepo *postgres.LedgerRepository) (*LedgerBackend, error) {
	key := cfg.Quota.DocumentKey

	switch cfg.Quota.Backend {
	case config.BackendMemory:
		repo := memory.NewLedgerRepository(key)
		return &LedgerBackend{
			Name:     config.BackendMemory,
			Store:    quota.NewDocumentStore(repo, key),
			Reserver: repo,
			Pinger:   repo,
		}, nil

	case config.BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis ledger backend selected but redis client not configured")
		}
		repo := redis.NewLedgerRepository(redisClient, key)
		return &LedgerBackend{
			Name:     config.BackendRedis,
			Store:    quota.NewDocumentStore(repo, key),
			Reserver: repo,
			Pinger:   redisClient,
		}, nil

	case config.BackendPostgres:
		if pgRepo == nil {
			return nil, fmt.Errorf("postgres ledger backend selected but postgres client not configured")
		}
		if err := pgRepo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate ledger table: %w", err)
		}
		return &LedgerBackend{
			Name:     config.BackendPostgres,
			Store:    quota.NewRowStore(pgRepo),
			Reserver: pgRepo,
			Pinger:   pgRepo,
		}, nil
	}

	return nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
}

// ProvideQuotaGate 按 quota.mode 选择准入策略
func ProvideQuotaGate(ctx context.Context, cfg *config.Config, backend *LedgerBackend) (quota.Gate, error) {
	loc := cfg.Quota.Location()

	var gate quota.Gate
	switch cfg.Quota.Mode {
	case config.ModeOptimistic:
		ledger := quota.NewLedger(backend.Store, cfg.Quota.RetentionDays)
		gate = quota.NewOptimisticGate(ledger, cfg.Quota.DailyLimit, loc)
	case config.ModeReserve:
		gate = quota.NewReservingGate(backend.Reserver, cfg.Quota.DailyLimit, cfg.Quota.RetentionDays, loc)
	default:
		return nil, fmt.Errorf("unknown quota mode %q", cfg.Quota.Mode)
	}

	logger.Info(ctx, "quota gate configured",
		"backend", backend.Name,
		"mode", gate.Mode(),
		"daily_limit", gate.Limit(),
		"timezone", loc.String(),
	)
	return gate, nil
}

// ProvideConverter 提供 LaTeX 编译客户端
func ProvideConverter(cfg *config.Config) *latex.Client {
	return latex.NewClient(latex.Config{
		BaseURL:            cfg.Conversion.BaseURL,
		Compiler:           cfg.Conversion.Compiler,
		DisplayMath:        cfg.Conversion.DisplayMath,
		MaxArtifactBytes:   cfg.Conversion.MaxArtifactBytes,
		MaxDiagnosticBytes: cfg.Conversion.MaxDiagnosticBytes,
		Secrets:            secrets(cfg),
	}, &http.Client{Timeout: cfg.Conversion.Timeout})
}

// ProvideSender 提供邮件投递客户端
func ProvideSender(cfg *config.Config) *mailer.Sender {
	m := cfg.Mail
	return mailer.NewSender(mailer.Config{
		Host:            m.Host,
		Port:            m.Port,
		Username:        m.Username,
		Password:        m.Password,
		FromName:        m.FromName,
		OperatorAddress: m.OperatorAddress,
		Subject:         m.Subject,
		Body:            m.Body,
		AttachmentName:  m.AttachmentName,
		TLSPolicy:       m.TLSPolicy,
		SSL:             m.SSL,
		Timeout:         m.Timeout,
	})
}

// ProvideOutcomePublisher 提供终态事件发布器，未启用时返回 nil
func ProvideOutcomePublisher(cfg *config.Config, redisClient *redis.Client) pipeline.OutcomePublisher {
	stream := cfg.Messaging.RedisStream
	if !stream.Enabled || redisClient == nil {
		return nil
	}
	return messaging.NewProducer(redisClient.Redis(), messaging.Stream(stream.Stream), stream.MaxLen)
}

// ProvideOrchestrator 提供流水线编排器
func ProvideOrchestrator(cfg *config.Config, gate quota.Gate, converter *latex.Client, sender *mailer.Sender, publisher pipeline.OutcomePublisher) *pipeline.Orchestrator {
	t := cfg.Pipeline.Timeouts
	return pipeline.NewOrchestrator(gate, converter, sender, publisher, pipeline.Options{
		MaxFragmentBytes:   cfg.Pipeline.MaxFragmentBytes,
		MaxDiagnosticBytes: cfg.Conversion.MaxDiagnosticBytes,
		Timeouts: pipeline.Timeouts{
			Quota:      t.Quota,
			Conversion: t.Conversion,
			Delivery:   t.Delivery,
			Commit:     t.Commit,
		},
		Secrets: secrets(cfg),
	})
}

// ProvideLatexBotHandler 提供转换端点处理器
func ProvideLatexBotHandler(cfg *config.Config, orchestrator *pipeline.Orchestrator) *handler.LatexBotHandler {
	return handler.NewLatexBotHandler(orchestrator, cfg.Server.HTTP.MaxBodyBytes)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, backend *LedgerBackend, redisClient *redis.Client) *handler.HealthHandler {
	checks := map[string]repository.Pinger{
		"ledger": backend.Pinger,
	}
	if redisClient != nil && backend.Name != config.BackendRedis {
		checks["redis"] = redisClient
	}
	return handler.NewHealthHandler(cfg.App.Version, checks)
}

// ProvideRateLimiter 提供客户端限流器，未启用时返回 nil 接口
func ProvideRateLimiter(cfg *config.Config, redisClient *redis.Client) middleware.RateLimiter {
	if !cfg.Security.RateLimit.Enabled || redisClient == nil {
		return nil
	}
	return redis.NewRateLimiter(redisClient)
}

func secrets(cfg *config.Config) []string {
	return []string{cfg.Mail.Password, cfg.Database.Postgres.Password, cfg.Cache.Redis.Password}
}
