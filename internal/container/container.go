package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/garyjia/approval-workflow/internal/application/dispatcher"
	"github.com/garyjia/approval-workflow/internal/application/port"
	"github.com/garyjia/approval-workflow/internal/application/workflow"
	"github.com/garyjia/approval-workflow/internal/config"
	"github.com/garyjia/approval-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/approval-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/approval-workflow/internal/infrastructure/ruleseed"
	"github.com/garyjia/approval-workflow/internal/infrastructure/worker"
	"github.com/garyjia/approval-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and are torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	db           *database.DB
	txManager    *sqlstore.TxManager
	repositories *RepositoryBundle

	resolver    port.RoleResolver
	redisClient *redis.Client
	messenger   port.MessageSender

	registry   *prometheus.Registry
	metrics    *metrics.Recorder
	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	services   *ServiceBundle

	workers *worker.Manager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a container. Nothing is opened until Start.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger}, nil
}

// Start initializes every component:
// database and repositories, role directory, messenger, metrics,
// dispatcher and engine, services, rule seed, then workers.
// On failure everything opened so far is closed again.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	defer func() {
		if err != nil {
			c.teardown()
		}
	}()

	c.logger.Info("Starting container initialization")

	dbBundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db, c.txManager = dbBundle.DB, dbBundle.TxManager
	c.repositories = ProvideRepositories(c.db, c.logger)
	c.logger.Info("Database initialized", zap.String("dialect", string(c.db.Dialect)))

	roleBundle, err := ProvideRoleResolver(&c.config.Roles, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize role directory: %w", err)
	}
	c.resolver, c.redisClient = roleBundle.Resolver, roleBundle.RedisClient

	c.messenger = ProvideMessenger(&c.config.Lark, c.logger)

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = ProvideMetrics(c.registry)

	c.dispatcher = ProvideDispatcher(c.logger)
	c.engine = ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Dispatcher: c.dispatcher,
		Resolver:   c.resolver,
		Metrics:    c.metrics,
		Engine:     &c.config.Engine,
		Logger:     c.logger,
	})

	c.services, err = ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.txManager,
		Engine:    c.engine,
		Resolver:  c.resolver,
		Messenger: c.messenger,
		Config:    c.config,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.services.Notification.Register(c.dispatcher)
	c.logger.Info("Application services initialized")

	if err := c.seedRules(ctx); err != nil {
		return err
	}

	c.workers, err = ProvideWorkers(&c.config.Overdue, c.services.Overdue, c.metrics, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	if err := c.workers.StartAll(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) seedRules(ctx context.Context) error {
	path := c.config.Rules.SeedFile
	if path == "" {
		return nil
	}

	rules, err := ruleseed.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load rule seed: %w", err)
	}
	result, err := c.services.Rules.ImportRules(ctx, rules)
	if err != nil {
		return fmt.Errorf("failed to import rule seed: %w", err)
	}

	c.logger.Info("Rule seed imported",
		zap.String("file", path),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("skipped", result.Skipped))
	return nil
}

// Close shuts down all components in reverse order
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.logger.Info("Closing container")

	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redisClient = nil
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.db = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health checks the database, the redis role directory and the workers
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Overall: true, Components: map[string]ComponentHealth{}}
	set := func(name string, err error, notInitialized bool) {
		switch {
		case notInitialized:
			status.Components[name] = ComponentHealth{Message: "not initialized"}
			status.Overall = false
		case err != nil:
			status.Components[name] = ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)}
			status.Overall = false
		default:
			status.Components[name] = ComponentHealth{Healthy: true}
		}
	}

	if c.txManager == nil {
		set("database", nil, true)
	} else {
		set("database", c.txManager.Ping(ctx), false)
	}

	if c.redisClient != nil {
		set("roles", c.redisClient.Ping(ctx).Err(), false)
	}

	if c.workers == nil {
		set("workers", nil, true)
	} else {
		status.Components["workers"] = ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		}
		status.Overall = status.Overall && c.workers.IsRunning()
	}

	return status
}

// TxManager returns the transaction manager
func (c *Container) TxManager() *sqlstore.TxManager {
	return c.txManager
}

// Repositories returns all repositories
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Engine returns the workflow engine
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Services returns all application services
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Dispatcher returns the event dispatcher
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Metrics returns the workflow metrics recorder
func (c *Container) Metrics() *metrics.Recorder {
	return c.metrics
}

// MetricsHandler serves the container's prometheus registry
func (c *Container) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Workers returns the worker manager
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration
func (c *Container) Config() *config.Config {
	return c.config
}
