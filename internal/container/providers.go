// Package container wires the approval workflow components together and owns
// their startup and teardown order.
package container

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/dispatcher"
	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/application/service"
	"github.com/garyjia/approval-workflow/internal/application/workflow"
	"github.com/garyjia/approval-workflow/internal/config"
	"github.com/garyjia/approval-workflow/internal/infrastructure/export"
	infraLark "github.com/garyjia/approval-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/approval-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/approval-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/approval-workflow/internal/infrastructure/roles"
	"github.com/garyjia/approval-workflow/internal/infrastructure/storage"
	"github.com/garyjia/approval-workflow/internal/infrastructure/worker"
	"github.com/garyjia/approval-workflow/pkg/database"
	"github.com/garyjia/approval-workflow/pkg/utils"
)

// DatabaseBundle holds the connection and its transaction manager
type DatabaseBundle struct {
	DB        *database.DB
	TxManager *sqlstore.TxManager
}

// RepositoryBundle groups all repositories for convenient access
type RepositoryBundle struct {
	Rules     port.RuleRepository
	Instances port.InstanceRepository
	Steps     port.StepRepository
}

// RoleBundle holds the resolver and the redis client behind it, if any
type RoleBundle struct {
	Resolver    port.RoleResolver
	RedisClient *redis.Client
}

// ServiceBundle groups all application services
type ServiceBundle struct {
	Rules        service.RuleService
	Audit        service.AuditService
	Overdue      service.OverdueService
	Export       service.ExportService
	Notification service.NotificationService
}

// ServiceDeps are the inputs of ProvideServices
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Engine    workflow.Engine
	Resolver  port.RoleResolver
	Messenger port.MessageSender
	Config    *config.Config
	Logger    *zap.Logger
}

// ProvideDatabase opens the configured database and applies pending migrations
func ProvideDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(database.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(db, logger).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{DB: db, TxManager: sqlstore.NewTxManager(db, logger)}, nil
}

// ProvideRepositories creates the SQL repositories over db
func ProvideRepositories(db *database.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Rules:     sqlstore.NewRuleRepository(db, logger),
		Instances: sqlstore.NewInstanceRepository(db, logger),
		Steps:     sqlstore.NewStepRepository(db, logger),
	}
}

// ProvideRoleResolver builds the static directory and, when redis is configured,
// layers the redis resolver over it.
func ProvideRoleResolver(cfg *config.RolesConfig, logger *zap.Logger) (*RoleBundle, error) {
	static := roles.NewStaticResolver(cfg.Static)
	if cfg.Redis.Addr == "" {
		if len(static.Roles()) == 0 {
			logger.Warn("Role directory is empty, every approve and claim will be refused",
				zap.String("hint", "set roles.static or roles.redis.addr"))
		}
		logger.Info("Using static role directory", zap.Int("roles", len(static.Roles())))
		return &RoleBundle{Resolver: static}, nil
	}

	redisCfg := roles.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
		CacheTTL:  cfg.Redis.CacheTTL,
	}
	client, err := roles.NewRedisClient(redisCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Using redis role directory", zap.String("addr", cfg.Redis.Addr))
	return &RoleBundle{
		Resolver:    roles.NewRedisResolver(client, redisCfg, static, logger),
		RedisClient: client,
	}, nil
}

// ProvideMessenger returns a Lark messenger, or a log-only sender when Lark is disabled
func ProvideMessenger(cfg *config.LarkConfig, logger *zap.Logger) port.MessageSender {
	if !cfg.Enabled {
		logger.Info("Lark notifications disabled, logging messages instead")
		return infraLark.NewLogSender(logger)
	}
	larkCfg := infraLark.Config{
		AppID:         cfg.AppID,
		AppSecret:     cfg.AppSecret,
		ReceiveIDType: cfg.ReceiveIDType,
	}
	return infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg, logger), larkCfg, logger)
}

// ProvideMetrics registers the workflow collectors with reg
func ProvideMetrics(reg prometheus.Registerer) *metrics.Recorder {
	return metrics.NewRecorder(reg)
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewKVLogger(logger)))
}

// WorkflowDeps are the inputs of ProvideWorkflowEngine
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Resolver   port.RoleResolver
	Metrics    port.WorkflowMetrics
	Engine     *config.EngineConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine
func ProvideWorkflowEngine(deps *WorkflowDeps) workflow.Engine {
	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithRoleResolver(deps.Resolver),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithLogger(utils.NewKVLogger(deps.Logger)),
	}
	if deps.Engine.SkipOptionalSteps {
		opts = append(opts, workflow.WithStepSkipper(workflow.SkipOptionalSteps))
	}
	return workflow.NewEngine(deps.Repos.Rules, deps.Repos.Instances, deps.Repos.Steps, deps.TxManager, opts...)
}

// ProvideServices creates every application service
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	policy, err := service.ParseStatsPolicy(deps.Config.Engine.StatsPolicy)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(deps.Config.Reports.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	log := utils.NewKVLogger(deps.Logger)
	clock := port.SystemClock{}
	audit := service.NewAuditService(deps.Repos.Instances, deps.Repos.Steps, deps.Engine, deps.Resolver, policy, log)

	return &ServiceBundle{
		Rules:   service.NewRuleService(deps.Repos.Rules, deps.TxManager, clock, log),
		Audit:   audit,
		Overdue: service.NewOverdueService(deps.Repos.Steps, deps.Resolver, log),
		Export: service.NewExportService(audit,
			export.NewExcelRenderer(deps.Logger),
			storage.NewLocalFileStorage(deps.Config.Reports.Dir, deps.Logger),
			clock, log),
		Notification: service.NewNotificationService(deps.Repos.Instances, deps.Resolver, deps.Messenger, log),
	}, nil
}

// ProvideWorkers builds the worker manager. The overdue reporter is registered
// only when a schedule is configured.
func ProvideWorkers(cfg *config.OverdueConfig, overdue service.OverdueService, recorder port.WorkflowMetrics, logger *zap.Logger) (*worker.Manager, error) {
	manager := worker.NewManager(logger)
	if cfg.Schedule == "" {
		return manager, nil
	}

	schedule, err := worker.ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("overdue.schedule: %w", err)
	}
	manager.Register(worker.NewOverdueReporter(schedule, overdue, recorder, port.SystemClock{}, logger))
	return manager, nil
}
