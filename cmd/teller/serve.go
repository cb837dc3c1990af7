package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eaglebank/teller/internal/command"
	"github.com/eaglebank/teller/internal/config"
	"github.com/eaglebank/teller/internal/handler"
	"github.com/eaglebank/teller/internal/migrations"
	"github.com/eaglebank/teller/internal/query"
	"github.com/eaglebank/teller/internal/repository"
	"github.com/eaglebank/teller/shared/database"
	"github.com/eaglebank/teller/shared/events"
	"github.com/eaglebank/teller/shared/logging"
	"github.com/eaglebank/teller/shared/middleware"
	"github.com/eaglebank/teller/shared/outbox"
	redisClient "github.com/eaglebank/teller/shared/redis"
)

const projectorGroup = "teller-balance-projector"

func newServeCmd(cfg *config.Config) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the balance projector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.Development())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, migrate)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flags.StringVar(&cfg.DatabaseReplicaURL, "db-replica", cfg.DatabaseReplicaURL, "Read replica connection URL (defaults to the primary)")
	flags.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address")
	flags.StringVar(&cfg.ConsumerName, "consumer", cfg.ConsumerName, "Consumer name within the projector group")
	flags.BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Database connection (write store, optional read replica)
	conn, err := database.Open(ctx, cfg.DatabaseURL, cfg.DatabaseReplicaURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	if migrate {
		if err := migrations.Up(conn.Primary, logger); err != nil {
			return err
		}
	}

	// Redis connection (read model store + event streaming + idempotency)
	redis, err := redisClient.NewClient(ctx, redisClient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer redis.Close()

	// --- CQRS wiring ---
	publisher := events.NewPublisher(redis.Client, events.DefaultStreamMaxLen)

	accountRepo := repository.NewAccountRepository(conn.DB, redis.Client, cfg.AccountCacheTTL, logger)
	outboxStore := outbox.NewPostgresStore(conn.DB)
	writeRepo := repository.NewTransactionWriteRepository(conn.DB, outboxStore)
	readRepo := repository.NewTransactionReadRepository(conn.DB, redis.Client, logger)

	commandSvc := command.NewTransactionCommandService(accountRepo, writeRepo, readRepo, logger)
	querySvc := query.NewTransactionQueryService(readRepo, accountRepo)
	projector := command.NewBalanceProjector(accountRepo, readRepo, publisher, logger)

	transactionHandler := handler.NewTransactionHandler(commandSvc, querySvc)
	idempotency := middleware.NewIdempotency(redis.Client, cfg.IdempotencyTTL, logger)

	// Setup router
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.LoggingMiddleware(logger))

	health := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"postgres": conn.Check,
		"redis":    redis.Check,
	})
	router.GET("/health", health.Health)

	v1 := router.Group("/v1/accounts/:accountNo", middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	transactionHandler.Register(v1, idempotency.Middleware())

	subscriber := events.NewSubscriber(redis.Client, events.SubscriberConfig{
		Group:    projectorGroup,
		Consumer: cfg.ConsumerName,
		Stream:   events.TransactionEventsStream,
		Handler:  projector.HandleTransactionEvent,
		Logger:   logger,
	})
	dispatcher := outbox.NewDispatcher(outboxStore, publisher, outbox.DispatcherConfig{Logger: logger})

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("subscriber stopped", zap.Error(err))
		}
	}()
	go func() {
		defer workers.Done()
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox dispatcher stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("teller starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	select {
	case err := <-serverErr:
		if err != nil {
			cancel()
			workers.Wait()
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	cancel()
	workers.Wait()
	return nil
}
