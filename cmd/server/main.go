package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"marketchat/internal/config"
	"marketchat/internal/domain"
	"marketchat/internal/httpserver"
	"marketchat/internal/identity"
	"marketchat/internal/realtime"
	"marketchat/internal/security"
	"marketchat/internal/service"
	"marketchat/internal/store/postgres"
	"marketchat/internal/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Postgres when DATABASE_URL is set, SQLite otherwise.
	var convRepo domain.ConversationRepository
	var msgRepo domain.MessageRepository
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := postgres.Migrate(db); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		convRepo = postgres.NewConversationRepo(db)
		msgRepo = postgres.NewMessageRepo(db)
	} else {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := sqlite.Migrate(db); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		convRepo = sqlite.NewConversationRepo(db)
		msgRepo = sqlite.NewMessageRepo(db)
	}

	// Identity collaborator: external directory, Redis read-through
	// cache when available, static fallback for local development.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Error("redis ping failed", "error", err)
			os.Exit(1)
		}
		cancel()
	}

	var directory domain.ProfileDirectory
	if cfg.IdentityBaseURL != "" {
		directory = identity.NewHTTPDirectory(cfg.IdentityBaseURL)
	} else {
		logger.Warn("IDENTITY_BASE_URL not set; peer profiles will be bare IDs")
		directory = identity.NewStaticDirectory()
	}
	if rdb != nil {
		directory = identity.NewCachedDirectory(directory, rdb, cfg.ProfileCacheTTL, logger)
	}

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)

	hub := realtime.NewHub(logger)
	rootCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()

	var broker service.Broker = hub
	if rdb != nil {
		bridge := realtime.NewBridge(hub, rdb, logger)
		broker = bridge
		go func() {
			if err := bridge.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.Error("realtime bridge stopped", "error", err)
			}
		}()
	}

	convSvc := service.NewConversationService(convRepo, directory, cfg.ReadTimeout, logger)
	msgSvc := service.NewMessageService(convRepo, msgRepo, directory, broker, cfg.ReadTimeout, logger)

	router := httpserver.NewRouter(cfg, convSvc, msgSvc, convRepo, hub, tokenSvc, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting marketchat server", "addr", cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
