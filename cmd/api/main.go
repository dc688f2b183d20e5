package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/guildkit/guild-tickets/internal/api/http"
	"github.com/guildkit/guild-tickets/internal/api/http/handlers"
	"github.com/guildkit/guild-tickets/internal/auth"
	"github.com/guildkit/guild-tickets/internal/catalog"
	"github.com/guildkit/guild-tickets/internal/clock"
	"github.com/guildkit/guild-tickets/internal/config"
	"github.com/guildkit/guild-tickets/internal/events"
	"github.com/guildkit/guild-tickets/internal/identity"
	"github.com/guildkit/guild-tickets/internal/messaging"
	"github.com/guildkit/guild-tickets/internal/observability"
	"github.com/guildkit/guild-tickets/internal/persistence"
	"github.com/guildkit/guild-tickets/internal/repository"
	"github.com/guildkit/guild-tickets/internal/service"
	"github.com/guildkit/guild-tickets/internal/transcript"
	"github.com/guildkit/guild-tickets/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// recordStore is the selected backend for both repositories.
type recordStore struct {
	tickets repository.TicketRepository
	entries repository.AuditLogRepository
	pinger  handlers.Pinger
	close   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open record store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer store.close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	publisher := messaging.NewPublisher(cfg.Messaging, logger)
	defer publisher.Close() //nolint:errcheck

	metrics := observability.NewMetrics(cfg.App.Name)
	dispatcher := events.NewInMemoryDispatcher()
	notificationDeps := service.NotificationDependencies{
		Dispatcher:     dispatcher,
		Logger:         logger,
		QueueSize:      cfg.Messaging.RelayQueueSize,
		PublishTimeout: cfg.Messaging.PublishTimeout(),
	}
	if publisher != nil {
		notificationDeps.Publisher = publisher
	}
	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := worker.StartNotificationWorker(relayCtx, service.NewNotificationService(notificationDeps))

	identities := identity.NewCachedResolver(redis.Client, cfg.Redis.IdentityCacheTTL(), logger)
	ticketTypes := catalog.NewRedisCatalog(redis.Client, catalog.NewStaticCatalog(cfg.Tickets.Types), logger)
	systemClock := clock.Real()

	recorder := service.NewAuditRecorder(service.AuditRecorderDependencies{
		AuditRepo:  store.entries,
		Identity:   identities,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      systemClock,
		Logger:     logger,
	})
	ticketDeps := service.TicketDependencies{
		TicketRepo: store.tickets,
		Catalog:    ticketTypes,
		Recorder:   recorder,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      systemClock,
		Logger:     logger,
	}
	if producer := transcript.NewURLProducer(cfg.Tickets.TranscriptBaseURL); producer != nil {
		ticketDeps.Transcripts = producer
	}
	ticketService := service.NewTicketService(ticketDeps)
	queryService := service.NewQueryService(service.QueryDependencies{
		TicketRepo: store.tickets,
		AuditRepo:  store.entries,
		Audit:      cfg.Audit,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, identities, logger)

	var redisPinger handlers.Pinger
	if redis.Enabled() {
		redisPinger = redis
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, cfg.Store.Driver, store.pinger, redisPinger),
		Tickets:        handlers.NewTicketsHandler(ticketService, queryService),
		Audit:          handlers.NewAuditHandler(recorder, queryService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	stopRelay()
	select {
	case <-relayDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("event relay did not drain before shutdown")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*recordStore, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return &recordStore{
			tickets: repository.NewTicketRepository(pg.PoolHandle()),
			entries: repository.NewAuditLogRepository(pg.PoolHandle()),
			pinger:  pg,
			close:   pg.Close,
		}, nil
	default:
		db, err := persistence.OpenSQLite(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &recordStore{
			tickets: repository.NewGormTicketRepository(db.DB),
			entries: repository.NewGormAuditLogRepository(db.DB),
			pinger:  db,
			close:   db.Close,
		}, nil
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
