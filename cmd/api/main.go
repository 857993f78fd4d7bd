package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-service/internal/api/http"
	"github.com/spec-kit/helpdesk-service/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/cache"
	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/persistence"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
	"github.com/spec-kit/helpdesk-service/internal/service"
	"github.com/spec-kit/helpdesk-service/internal/worker"
)

// stores groups the repository set the services run on.
type stores struct {
	backend  string
	tickets  repository.TicketRepository
	history  repository.TicketHistoryRepository
	comments repository.CommentRepository
	users    repository.UserRepository
	tx       repository.TxRunner
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger,
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Env),
	)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	pg.RegisterPoolMetrics(registry)

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	st := openStores(pg, logger)
	readiness := map[string]handlers.Pinger{}
	if pg.PoolHandle() != nil {
		readiness["postgres"] = pg
	}
	if redis.Client != nil {
		readiness["redis"] = redis
	}

	profiles := cache.NewProfileCache(cfg.Cache.ProfileSize, cfg.Cache.ProfileTTL(), metrics)
	cachedUsers := cache.NewCachedUserRepository(st.users, profiles)

	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(dispatcher, logger.Named("notifications"), cfg.Notification)
	worker.StartNotificationWorker(notifications, events.NewRedisPublisher(redis.Client, cfg.Notification.RedisChannel))

	storeTimeout := cfg.App.StoreTimeout()
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   st.tickets,
		HistoryRepo:  st.history,
		UserRepo:     st.users,
		TxRunner:     st.tx,
		Categories:   cfg.Tickets.Categories,
		Dispatcher:   dispatcher,
		Logger:       logger.Named("tickets"),
		Metrics:      metrics,
		StoreTimeout: storeTimeout,
	})
	commentService := service.NewCommentService(service.CommentDependencies{
		TicketRepo:   st.tickets,
		CommentRepo:  st.comments,
		HistoryRepo:  st.history,
		TxRunner:     st.tx,
		Dispatcher:   dispatcher,
		Logger:       logger.Named("comments"),
		Metrics:      metrics,
		StoreTimeout: storeTimeout,
	})
	userService := service.NewUserService(service.UserDependencies{
		UserRepo:     cachedUsers,
		TicketRepo:   st.tickets,
		TxRunner:     st.tx,
		Dispatcher:   dispatcher,
		Logger:       logger.Named("users"),
		BcryptCost:   cfg.Auth.BcryptCost,
		StoreTimeout: storeTimeout,
	})
	dashboardService := service.NewDashboardService(st.tickets, logger.Named("dashboard"), storeTimeout)
	profileService := service.NewProfileService(cachedUsers, logger.Named("profiles"), storeTimeout)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes, auth.WithIssuer(cfg.Auth.JWTIssuer))
	authService := service.NewAuthService(st.users, tokens, logger.Named("auth"), storeTimeout)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), cachedUsers)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, st.backend, readiness),
		Tickets:        handlers.NewTicketsHandler(ticketService, profileService),
		Comments:       handlers.NewCommentsHandler(commentService, profileService),
		Users:          handlers.NewUsersHandler(authService, userService),
		Dashboard:      handlers.NewDashboardHandler(dashboardService, profileService),
		AuthMiddleware: authMiddleware,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

// openStores uses Postgres when a pool is available and the in-memory store otherwise.
func openStores(pg *persistence.Postgres, logger *zap.Logger) stores {
	pool := pg.PoolHandle()
	if pool == nil {
		logger.Warn("running on the in-memory store; data is lost on restart")
		mem := memory.NewStore()
		return stores{
			backend:  "memory",
			tickets:  mem.Tickets(),
			history:  mem.History(),
			comments: mem.Comments(),
			users:    mem.Users(),
			tx:       mem,
		}
	}
	return stores{
		backend:  "postgres",
		tickets:  repository.NewTicketRepository(pool),
		history:  repository.NewTicketHistoryRepository(pool),
		comments: repository.NewCommentRepository(pool),
		users:    repository.NewUserRepository(pool),
		tx:       repository.NewTxRunner(pool),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
