package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/health"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/pool"
	"tempmail/inbox/internal/service"
	"tempmail/inbox/internal/smtp"
	"tempmail/inbox/internal/storage"
	"tempmail/inbox/internal/storage/hybrid"
	"tempmail/inbox/internal/storage/memory"
	"tempmail/inbox/internal/storage/postgres"
	"tempmail/inbox/internal/storage/redis"
	sqlstore "tempmail/inbox/internal/storage/sql"
	httptransport "tempmail/inbox/internal/transport/http"
	"tempmail/inbox/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting tempmail inbox server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("domains", cfg.Mailbox.Domains),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Redis 可选：开启后作为读缓存，并负责跨进程广播新邮件
	var (
		redisClient *redis.Client
		pubsub      *redis.PubSub
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()

		store = hybrid.NewStore(store, redis.NewCache(redisClient), cfg.Redis.CacheTTL, log)
		pubsub = redis.NewPubSub(redisClient)
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address), zap.Duration("ttl", cfg.Redis.CacheTTL))
	}

	metrics := monitoring.NewMetrics()

	var healthChecker *health.HealthChecker
	if redisClient != nil {
		healthChecker = health.NewHealthChecker(store, redisClient, log)
	} else {
		healthChecker = health.NewHealthChecker(store, nil, log)
	}

	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, log)

	// 有 Redis 时本地推送也经由订阅回流，避免同一封邮件推送两次
	workers := pool.NewWorkerPool(cfg.Notify.Workers, cfg.Notify.QueueSize, log)
	var sinks []service.Notifier
	if pubsub != nil {
		sinks = append(sinks, pubsub)
	} else {
		sinks = append(sinks, wsHub)
	}
	dispatcher := service.NewDispatcher(workers, metrics, log, sinks...)

	inboxService := service.NewInboxService(store, cfg.Mailbox, metrics, log)
	messageService := service.NewMessageService(store, metrics, log)
	ingestService := service.NewIngestService(inboxService, store, dispatcher, metrics, log)
	reaper := service.NewReaper(store, cfg.Mailbox, metrics, log)

	// 启动时先清理一次，避免重启后残留的过期数据继续可见
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if result, err := reaper.Sweep(startupCtx); err != nil {
		log.Warn("startup sweep failed", zap.Error(err))
	} else {
		log.Info("startup sweep finished",
			zap.Int("expired_inboxes", result.ExpiredInboxes),
			zap.Int("purged_messages", result.PurgedMessages),
			zap.Int("active_inboxes", result.ActiveInboxes),
		)
	}
	cancelStartup()

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		InboxService:   inboxService,
		MessageService: messageService,
		IngestService:  ingestService,
		Metrics:        metrics,
		Health:         healthChecker,
		WebSocketHub:   wsHub,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	smtpServer := smtp.NewServer(smtp.NewBackend(ingestService, cfg.SMTP, metrics, log), cfg.SMTP)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
			zap.Int("max_connections", cfg.SMTP.MaxConnections),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		return reaper.Run(groupCtx)
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		workers.Start(groupCtx)
		<-groupCtx.Done()
		workers.Stop()
		return nil
	})

	if pubsub != nil {
		group.Go(func() error {
			err := pubsub.Subscribe(groupCtx, nil, func(summary domain.Summary) {
				wsHub.Broadcast(summary)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis subscription stopped", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
			_ = smtpServer.Close()
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return
	}

	log.Info("server exited cleanly")
}

// openStore 根据配置选择存储后端
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	db := cfg.Database
	switch db.Type {
	case "", config.DatabaseMemory:
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil

	case config.DatabaseSQLite:
		store, err := sqlstore.NewStore(sqlstore.DriverSQLite, db.DSN, db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		log.Info("using sqlite storage", zap.String("dsn", db.DSN))
		return store, nil

	case config.DatabasePostgres:
		client, err := postgres.New(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		store, err := postgres.NewStore(client)
		if err != nil {
			return nil, err
		}
		log.Info("using postgres storage")
		return store, nil

	case config.DatabaseMySQL:
		store, err := postgres.NewMySQLStore(db.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("using mysql storage")
		return store, nil
	}
	return nil, fmt.Errorf("unsupported database type: %s", db.Type)
}
