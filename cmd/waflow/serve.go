package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/waflowhq/waflow/internal/account"
	"github.com/waflowhq/waflow/internal/config"
	"github.com/waflowhq/waflow/internal/contact"
	"github.com/waflowhq/waflow/internal/db"
	"github.com/waflowhq/waflow/internal/dispatch"
	"github.com/waflowhq/waflow/internal/handlers"
	"github.com/waflowhq/waflow/internal/healthcheck"
	"github.com/waflowhq/waflow/internal/ledger"
	"github.com/waflowhq/waflow/internal/logger"
	"github.com/waflowhq/waflow/internal/maintenance"
	"github.com/waflowhq/waflow/internal/outbound"
	"github.com/waflowhq/waflow/internal/server"
	"github.com/waflowhq/waflow/internal/session"
	"github.com/waflowhq/waflow/internal/webhook"
	"github.com/waflowhq/waflow/internal/whatsapp"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideRedis,
			account.NewStore,
			provideAccountRegistry,
			contact.NewStore,
			provideContactResolver,
			ledger.NewStore,
			provideReconciler,
			provideSessionPolicy,
			provideWhatsAppClient,
			provideDeduper,
			provideDispatcher,
			provideOutboundGateway,
			provideIngestor,
			provideSweeper,
			provideHealthService,
			providePingHandler,
			provideWebhookHandler,
			provideMessagesHandler,
			provideAccountsHandler,
			provideContactsHandler,
			provideServer,
		),
		fx.Invoke(
			startInvalidationListener,
			startDispatcher,
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideRedis(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return rdb.Close() }})
	return rdb, nil
}

func provideAccountRegistry(log *slog.Logger, store *account.Store, rdb *redis.Client) *account.Registry {
	return account.NewRegistry(log, store, rdb)
}

func provideContactResolver(log *slog.Logger, store *contact.Store) *contact.Resolver {
	return contact.NewResolver(log, store)
}

func provideReconciler(log *slog.Logger, store *ledger.Store) *ledger.Reconciler {
	return ledger.NewReconciler(log, store)
}

func provideSessionPolicy(store *ledger.Store) *session.Policy {
	return session.NewPolicy(store)
}

func provideWhatsAppClient(log *slog.Logger, cfg config.Config) *whatsapp.Client {
	return whatsapp.NewClient(log, cfg.WhatsApp)
}

func provideDeduper(rdb *redis.Client, cfg config.Config) *webhook.Deduper {
	return webhook.NewDeduper(rdb, cfg.Redis.DedupeTTL())
}

func provideDispatcher(log *slog.Logger, cfg config.Config) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, cfg.Automation)
}

func provideOutboundGateway(log *slog.Logger, registry *account.Registry, resolver *contact.Resolver, policy *session.Policy, store *ledger.Store, client *whatsapp.Client) *outbound.Gateway {
	return outbound.NewGateway(log, registry, resolver, policy, store, client)
}

func provideIngestor(log *slog.Logger, registry *account.Registry, resolver *contact.Resolver, store *ledger.Store, reconciler *ledger.Reconciler, deduper *webhook.Deduper, dispatcher *dispatch.Dispatcher) *webhook.Ingestor {
	return webhook.NewIngestor(log, registry, resolver, store, reconciler, deduper, dispatcher)
}

func provideSweeper(log *slog.Logger, store *ledger.Store, cfg config.Config) *maintenance.Sweeper {
	return maintenance.NewSweeper(log, store, cfg.Redis.DedupeTTL())
}

func provideHealthService(log *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) *healthcheck.Service {
	return healthcheck.NewService(log,
		healthcheck.NewPostgresChecker(pool),
		healthcheck.NewRedisChecker(rdb))
}

func providePingHandler(log *slog.Logger, health *healthcheck.Service) *handlers.PingHandler {
	return handlers.NewPingHandler(log, health)
}

func provideWebhookHandler(log *slog.Logger, ingestor *webhook.Ingestor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, ingestor)
}

func provideMessagesHandler(log *slog.Logger, gateway *outbound.Gateway) *handlers.MessagesHandler {
	return handlers.NewMessagesHandler(log, gateway)
}

func provideAccountsHandler(log *slog.Logger, registry *account.Registry) *handlers.AccountsHandler {
	return handlers.NewAccountsHandler(log, registry)
}

func provideContactsHandler(log *slog.Logger, store *contact.Store) *handlers.ContactsHandler {
	return handlers.NewContactsHandler(log, store)
}

func provideServer(log *slog.Logger, cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler, messagesHandler *handlers.MessagesHandler, accountsHandler *handlers.AccountsHandler, contactsHandler *handlers.ContactsHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, pingHandler, webhookHandler, messagesHandler, accountsHandler, contactsHandler)
}

func startInvalidationListener(lc fx.Lifecycle, registry *account.Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			registry.StartInvalidationListener(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func startDispatcher(lc fx.Lifecycle, dispatcher *dispatch.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			dispatcher.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			dispatcher.Stop()
			cancel()
			return nil
		},
	})
}

func startSweeper(lc fx.Lifecycle, sweeper *maintenance.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sweeper.Start() },
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("server starting", slog.String("addr", cfg.Server.Addr))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
