package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pscheid92/subpulse/internal/config"
	"github.com/pscheid92/subpulse/internal/database"
	apperrors "github.com/pscheid92/subpulse/internal/errors"
	"github.com/pscheid92/subpulse/internal/eventsub"
	"github.com/pscheid92/subpulse/internal/helixapi"
	"github.com/pscheid92/subpulse/internal/logging"
	"github.com/pscheid92/subpulse/internal/metrics"
	"github.com/pscheid92/subpulse/internal/redis"
	"github.com/pscheid92/subpulse/internal/version"
	"github.com/pscheid92/subpulse/internal/webhook"
	"github.com/pscheid92/subpulse/internal/wsclient"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	if err := client.Ping(context.Background()); err != nil {
		slog.Error("Failed to ping Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// registryEvents logs every lifecycle transition the registry reports.
func registryEvents() eventsub.Events {
	return eventsub.Events{
		OnVerify: func(ok bool, sub *eventsub.Subscription) {
			if ok {
				slog.Info("Subscription verified", "subscription_id", sub.ProviderID(), "logical_id", sub.LogicalID())
			} else {
				slog.Error("Subscription registration failed", "logical_id", sub.LogicalID())
			}
		},
		OnRevoke: func(sub *eventsub.Subscription, reason string) {
			slog.Warn("Subscription revoked", "subscription_id", sub.ProviderID(), "reason", reason)
		},
		OnSocketConnect: func(userID string) {
			slog.Info("WebSocket session connected", "user_id", userID)
		},
		OnSocketDisconnect: func(userID string, err error) {
			slog.Error("WebSocket session gone", "user_id", userID, "error", err)
		},
	}
}

// resubscribeDeclared re-subscribes every persisted topic with a logging
// handler, adopting matching provider-side subscriptions where possible.
func resubscribeDeclared(ctx context.Context, registry *eventsub.Registry, store eventsub.IntentStore) {
	declared, err := store.List(ctx)
	if err != nil {
		slog.Error("Failed to list declared topics", "error", err)
		return
	}

	for _, d := range declared {
		topic := d.Topic
		if _, err := registry.Subscribe(ctx, topic, d.AuthUserID, func(n eventsub.Notification) {
			slog.Info("Event received",
				"subscription_id", n.SubscriptionID,
				"type", n.Topic.Type,
				"event", string(n.Event))
		}); err != nil {
			slog.Error("Failed to resubscribe declared topic", "logical_id", topic.LogicalID(), "error", err)
		}
	}
	slog.Info("Declared topics resubscribed", "count", len(declared))
}

func runGracefulShutdown(e *echo.Echo, wsClient *wsclient.Client) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if wsClient != nil {
			wsClient.Close()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"transport", cfg.Transport,
		"port", cfg.Port,
		"version", info.Version,
		"commit", info.Commit)

	api, err := helixapi.NewClient(helixapi.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}, clock)
	if err != nil {
		slog.Error("Failed to create provider client", "error", err)
		os.Exit(1)
	}

	var store eventsub.IntentStore
	if cfg.DatabaseURL != "" {
		pool := setupDB(cfg)
		defer pool.Close()
		store = database.NewIntentRepo(pool)
	}

	registry := eventsub.NewRegistry(api, store, registryEvents())

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	var wsClient *wsclient.Client
	switch cfg.Transport {
	case config.TransportWebhook:
		var guard webhook.ReplayGuard
		if cfg.RedisURL != "" {
			redisClient := setupRedis(cfg)
			defer func() { _ = redisClient.Close() }()
			guard = redis.NewReplayGuard(redisClient.Underlying(), cfg.ReplayWindow)
		} else {
			guard = webhook.NewMemoryReplayGuard(cfg.ReplayWindow, clock)
		}

		handler, err := webhook.NewHandler(webhook.Config{
			CallbackURL:     cfg.WebhookCallbackURL,
			Secret:          cfg.WebhookSecret,
			StrictHostCheck: cfg.StrictHostCheck,
			MaxAge:          cfg.ReplayWindow,
		}, registry, guard, clock)
		if err != nil {
			slog.Error("Failed to create webhook handler", "error", err)
			os.Exit(1)
		}
		registry.SetTransport(handler)
		handler.Register(e)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := registry.ResumeExisting(ctx); err != nil {
			slog.Error("Failed to resume existing subscriptions", "error", err)
		}
		if store != nil {
			resubscribeDeclared(ctx, registry, store)
		}
		cancel()

	case config.TransportWebSocket:
		wsClient = wsclient.NewClient(wsclient.Config{
			URL:                 cfg.WebSocketURL,
			KeepaliveMultiplier: cfg.KeepaliveMultiplier,
		}, registry, clock)
		registry.SetTransport(wsClient)

		e.GET("/", func(c echo.Context) error {
			return c.String(http.StatusOK, "subpulse websocket engine")
		})

		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			resubscribeDeclared(ctx, registry, store)
			cancel()
		}
	}

	done := runGracefulShutdown(e, wsClient)

	slog.Info("Server starting", "port", cfg.Port)
	if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
