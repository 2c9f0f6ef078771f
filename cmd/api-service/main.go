package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/taskcore/internal/api/handler"
	"github.com/cuongbtq/taskcore/internal/api/router"
	"github.com/cuongbtq/taskcore/internal/bootstrap"
	"github.com/cuongbtq/taskcore/internal/config"
	"github.com/cuongbtq/taskcore/internal/health"
	"github.com/cuongbtq/taskcore/internal/jobstore"
	"github.com/cuongbtq/taskcore/internal/statusbus"
	"github.com/cuongbtq/taskcore/internal/worker"
	"github.com/cuongbtq/taskcore/shared/postgresql"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

const hubBuffer = 64

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Bool("embedded_worker", cfg.Worker.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rabbitClient, err := bootstrap.ConnectRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()
	logger.Info("RabbitMQ connection established")

	hub := statusbus.NewHub(logger, hubBuffer)
	defer hub.Close()

	var (
		dbClient *postgresql.Client
		repo     jobstore.Repository
		storeCfg = &jobstore.Config{Logger: logger}
	)

	switch cfg.Database.Driver {
	case config.DriverMemory:
		// Single process: events go straight to local subscribers
		repo = jobstore.NewMemoryRepository()
		storeCfg.Publisher = hub
	default:
		dbClient, err = bootstrap.ConnectPostgres(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()
		logger.Info("Database connection established")

		repo = jobstore.NewPostgresRepository(dbClient.GetDB(), logger)
		storeCfg.Publisher = statusbus.NewAMQPPublisher(rabbitClient)
	}
	storeCfg.Repository = repo

	var pool *worker.Pool
	if cfg.Worker.Enabled {
		// The pool claims through its own store handle; the gateway's store
		// uses the pool as its signaler
		poolStore := jobstore.NewStore(storeCfg)
		pool, err = bootstrap.NewPool(&cfg.Worker, poolStore, nil, logger)
		if err != nil {
			return fmt.Errorf("failed to create worker pool: %w", err)
		}
		storeCfg.Signaler = pool
	} else {
		storeCfg.Signaler = worker.NewSignaler(rabbitClient)
	}
	store := jobstore.NewStore(storeCfg)

	aggregator := newAggregator(cfg, logger, store, dbClient, rabbitClient, pool)

	r := initRouter(cfg, logger, store, hub, aggregator)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Open event streams must not hold up shutdown
	srv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Database.Driver != config.DriverMemory {
		relay := statusbus.NewRelay(rabbitClient, hub, cfg.App.Name, cfg.RabbitMQ.Connection.RetryInterval, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	g.Go(func() error { return aggregator.Run(gctx) })

	if pool != nil {
		// Stopped explicitly after the server so in-flight jobs get their own timeout
		go func() {
			if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Worker pool failed", slog.Any("error", err))
			}
		}()
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}

		if pool != nil {
			bootstrap.StopPool(pool, cfg.Worker.ShutdownTimeout, logger)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("API service shutdown complete")
	return nil
}

// newAggregator wires the health probes for whichever store and pool this process runs
func newAggregator(
	cfg *config.Config,
	logger *slog.Logger,
	store *jobstore.Store,
	dbClient *postgresql.Client,
	rabbitClient *rabbitmq.Client,
	pool *worker.Pool,
) *health.Aggregator {
	aggCfg := &health.Config{
		Logger:          logger,
		Database:        health.CheckerFunc(store.Ping),
		Broker:          rabbitClient,
		BrokerStats:     rabbitClient,
		Queue:           store,
		RefreshInterval: cfg.Health.RefreshInterval,
	}

	if dbClient != nil {
		aggCfg.Database = dbClient
		aggCfg.DatabaseStats = dbClient
	}

	if pool != nil {
		aggCfg.Pool = health.NewLocalPool(pool)
	} else {
		aggCfg.Pool = health.NewRemotePool(store, cfg.Health.WorkerWindow)
	}

	return health.NewAggregator(aggCfg)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, store *jobstore.Store, hub *statusbus.Hub, aggregator *health.Aggregator) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:       logger,
		Store:        store,
		Events:       hub,
		Health:       aggregator,
		SSEKeepAlive: cfg.Server.SSEKeepAlive,
	}

	return router.SetupRouter(deps, router.CORSOptions{
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
	})
}
