package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lalith-99/echocore/internal/api"
	"github.com/lalith-99/echocore/internal/chat"
	"github.com/lalith-99/echocore/internal/clock"
	"github.com/lalith-99/echocore/internal/config"
	"github.com/lalith-99/echocore/internal/db"
	"github.com/lalith-99/echocore/internal/gate"
	"github.com/lalith-99/echocore/internal/middleware"
	"github.com/lalith-99/echocore/internal/notify"
	"github.com/lalith-99/echocore/internal/observ"
	"github.com/lalith-99/echocore/internal/payout"
	"github.com/lalith-99/echocore/internal/registry"
	"github.com/lalith-99/echocore/internal/repository"
	"github.com/lalith-99/echocore/internal/repository/memory"
	"github.com/lalith-99/echocore/internal/retention"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	payoutKey       = "echocore:payouts"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	verifierID := pflag.String("verifier-id", "echocore", "identity sent to the gate verifier")
	pflag.Parse()

	// ---------------------------------------------------------------
	// 1. Config and logging
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observ.NewMetrics()
	clk := clock.Real()

	// ---------------------------------------------------------------
	// 2. Storage: Postgres when configured, in memory otherwise
	// ---------------------------------------------------------------
	var (
		chatRepo     repository.ChatRepository
		registryRepo registry.Repository
		checks       []func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL, db.Options{}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		chatRepo, registryRepo = database.Chats(), database.Registries()
		checks = append(checks, database.Health)
	} else {
		logger.Warn("DATABASE_URL not set, chats are kept in memory only")
		store := memory.New()
		chatRepo, registryRepo = store, store
	}

	// ---------------------------------------------------------------
	// 3. Notifications and payouts
	//
	// Entities publish to the local bus, which keeps registries current.
	// With Redis the same notifications are also fanned out so every
	// instance can push them to its own websocket clients.
	// ---------------------------------------------------------------
	bus := notify.NewBus(1024, logger, metrics)
	hub := notify.NewHub(logger)
	registries := registry.NewStore(registryRepo, logger)

	var (
		publisher notify.Publisher = bus
		payouts   payout.Queue     = payout.NewMemoryQueue()
		local     notify.Handler   = notify.Handlers{registries, hub}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		publisher = notify.Fanout{bus, notify.NewRedisPublisher(rdb, notify.DefaultChannel)}
		payouts = payout.NewRedisQueue(rdb, payoutKey)
		local = registries

		sub := notify.NewRedisSubscriber(rdb, notify.DefaultChannel, logger)
		go func() {
			if err := sub.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis subscriber stopped", zap.Error(err))
			}
		}()
	}
	// Registries must see every membership change, so publishers wait
	// for this subscriber. It drains until Unsubscribe closes it, after
	// the chats below have flushed their outboxes.
	events := bus.SubscribeLossless()
	defer bus.Unsubscribe(events)
	go notify.Consume(context.WithoutCancel(ctx), events, local, logger)

	// ---------------------------------------------------------------
	// 4. Chats
	// ---------------------------------------------------------------
	var checker *gate.Checker
	if cfg.GateVerifierURL != "" {
		verifier := gate.NewHTTPVerifier(cfg.GateVerifierURL, &http.Client{Timeout: cfg.GateVerifierTimeout})
		checker = gate.NewChecker(verifier, *verifierID, cfg.GateVerifierTimeout, logger)
	}
	manager := chat.NewManager(chat.Deps{
		Repo:      chatRepo,
		Publisher: publisher,
		Payouts:   payouts,
		Checker:   checker,
		Clock:     clk,
		Metrics:   metrics,
		Logger:    logger,
		Defaults: chat.Defaults{
			MemberLimit:                cfg.ChatDefaults.MemberLimit,
			EventsTTL:                  cfg.ChatDefaults.EventsTTL,
			HistoryVisibleToNewJoiners: cfg.ChatDefaults.HistoryVisibleToNewJoiners,
			MaxEventsPerRead:           cfg.ChatDefaults.MaxEventsPerRead,
			MaxMessagesPerRead:         cfg.ChatDefaults.MaxMessagesPerRead,
		},
	})
	defer manager.Close()

	scheduler, err := retention.New(cfg.RetentionCron, cfg.TombstoneRetention, []retention.Target{
		{Name: "chats", Pruner: manager},
		{Name: "registries", Pruner: retention.PrunerFunc(registries.Prune)},
	}, clk, metrics, logger)
	if err != nil {
		return fmt.Errorf("create retention scheduler: %w", err)
	}
	go scheduler.Run(ctx)

	// ---------------------------------------------------------------
	// 5. HTTP server
	// ---------------------------------------------------------------
	router := api.NewRouter(api.Deps{
		Manager:   manager,
		Registry:  registries,
		Hub:       hub,
		Metrics:   metrics,
		Limiter:   middleware.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		JWTSecret: cfg.JWTSecret,
		Health: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Clock:  clk,
		Logger: logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting echocore",
			zap.String("port", cfg.Port),
			zap.Bool("postgres", cfg.DatabaseURL != ""),
			zap.Bool("redis", cfg.RedisURL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
